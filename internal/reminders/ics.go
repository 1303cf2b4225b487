package reminders

import (
	"strings"
	"time"
)

const (
	icsProductID  = "-//StudyBuddy//StudyBuddy//EN"
	icsUIDDomain  = "studybuddy.app"
	icsTimeLayout = "20060102T150405Z"
	icsLineBreak  = "\r\n"
	eventDuration = time.Hour
)

var icsTextEscaper = strings.NewReplacer(
	`\`, `\\`,
	";", `\;`,
	",", `\,`,
	"\r\n", `\n`,
	"\n", `\n`,
)

// Calendar renders reminder as a VCALENDAR with one one-hour VEVENT.
func Calendar(reminder Reminder, stamp time.Time) string {
	start := time.UnixMilli(reminder.WhenMillis).UTC()
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:" + icsProductID,
		"CALSCALE:GREGORIAN",
		"BEGIN:VEVENT",
		"UID:" + reminder.ReminderID + "@" + icsUIDDomain,
		"DTSTAMP:" + stamp.UTC().Format(icsTimeLayout),
		"DTSTART:" + start.Format(icsTimeLayout),
		"DTEND:" + start.Add(eventDuration).Format(icsTimeLayout),
		"SUMMARY:" + icsTextEscaper.Replace(reminder.Title),
		"DESCRIPTION:" + icsTextEscaper.Replace(reminder.Description),
		"CATEGORIES:" + strings.ToUpper(string(reminder.Kind)),
		"END:VEVENT",
		"END:VCALENDAR",
	}
	var builder strings.Builder
	for _, line := range lines {
		builder.WriteString(foldLine(line))
		builder.WriteString(icsLineBreak)
	}
	return builder.String()
}

// foldLine splits content lines longer than 75 octets without breaking UTF-8 sequences.
func foldLine(line string) string {
	const limit = 75
	if len(line) <= limit {
		return line
	}
	var builder strings.Builder
	width := 0
	for _, r := range line {
		size := len(string(r))
		if width+size > limit {
			builder.WriteString(icsLineBreak + " ")
			width = 1
		}
		builder.WriteRune(r)
		width += size
	}
	return builder.String()
}
