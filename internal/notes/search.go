package notes

import (
	"sort"
	"strings"
)

func filterNotes(candidates []Note, query SearchQuery) []Note {
	text := strings.ToLower(strings.TrimSpace(query.Text))
	subject := strings.ToLower(strings.TrimSpace(query.Subject))
	wantedTags := make(map[string]struct{}, len(query.Tags))
	for _, tag := range query.Tags {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			wantedTags[trimmed] = struct{}{}
		}
	}
	var fromMillis, toMillis int64
	if !query.From.IsZero() {
		fromMillis = query.From.UTC().UnixMilli()
	}
	if !query.To.IsZero() {
		toMillis = query.To.UTC().UnixMilli()
	}

	filtered := make([]Note, 0, len(candidates))
	for _, note := range candidates {
		if text != "" &&
			!strings.Contains(strings.ToLower(note.Title), text) &&
			!strings.Contains(strings.ToLower(note.Body), text) {
			continue
		}
		if len(wantedTags) > 0 && !hasAnyTag(note.Tags, wantedTags) {
			continue
		}
		if subject != "" && strings.ToLower(note.Subject) != subject {
			continue
		}
		if fromMillis != 0 && note.UpdatedAtMillis < fromMillis {
			continue
		}
		if toMillis != 0 && note.UpdatedAtMillis > toMillis {
			continue
		}
		filtered = append(filtered, note)
	}
	return filtered
}

func hasAnyTag(tags []string, wanted map[string]struct{}) bool {
	for _, tag := range tags {
		if _, ok := wanted[tag]; ok {
			return true
		}
	}
	return false
}

// sortNotes orders in place. Ties keep their input order.
func sortNotes(candidates []Note, order SortOrder) {
	switch order {
	case SortCreated:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].CreatedAtMillis > candidates[j].CreatedAtMillis
		})
	case SortTitle:
		sort.SliceStable(candidates, func(i, j int) bool {
			left := strings.ToLower(candidates[i].Title)
			right := strings.ToLower(candidates[j].Title)
			if left != right {
				return left < right
			}
			return candidates[i].Title < candidates[j].Title
		})
	default:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].UpdatedAtMillis > candidates[j].UpdatedAtMillis
		})
	}
}

func distinctSubjects(candidates []Note) []string {
	seen := make(map[string]struct{}, len(candidates))
	subjects := make([]string, 0, len(candidates))
	for _, note := range candidates {
		subject := strings.TrimSpace(note.Subject)
		if subject == "" {
			continue
		}
		if _, ok := seen[subject]; ok {
			continue
		}
		seen[subject] = struct{}{}
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}
