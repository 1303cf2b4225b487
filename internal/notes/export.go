package notes

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/access"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"gopkg.in/yaml.v3"
)

const (
	opExport = "notes.export"

	reasonInvalidFormat = "invalid_format"
	reasonEncodeFailed  = "encode_failed"

	frontMatterDelimiter = "---\n"
	fallbackFileName     = "note"
)

// ExportFormat selects the document produced by Export.
type ExportFormat string

const (
	// ExportMarkdown renders YAML front matter followed by the body.
	ExportMarkdown ExportFormat = "markdown"
	// ExportText renders the title, a blank line and the body.
	ExportText ExportFormat = "text"
)

// ParseExportFormat validates raw input; empty input selects ExportMarkdown.
func ParseExportFormat(rawInput string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(rawInput)) {
	case "", "md", string(ExportMarkdown):
		return ExportMarkdown, nil
	case "txt", string(ExportText):
		return ExportText, nil
	default:
		return "", fmt.Errorf("notes: unknown export format %q", rawInput)
	}
}

// ExportedDocument is a rendered note ready to be downloaded.
type ExportedDocument struct {
	FileName    string
	ContentType string
	Content     []byte
}

type frontMatter struct {
	Title   string   `yaml:"title"`
	Subject string   `yaml:"subject,omitempty"`
	Tags    []string `yaml:"tags,omitempty"`
	Grade   *float64 `yaml:"grade,omitempty"`
	Created string   `yaml:"created"`
	Updated string   `yaml:"updated"`
}

// Export renders a note the caller can view.
func (s *Service) Export(ctx context.Context, noteID, userID string, format ExportFormat) (ExportedDocument, error) {
	user, note, err := s.parseIdentifiers(opExport, noteID, userID)
	if err != nil {
		return ExportedDocument{}, err
	}
	if format != ExportMarkdown && format != ExportText {
		return ExportedDocument{}, apperr.New(opExport, reasonInvalidFormat, apperr.ErrValidation, nil)
	}
	if err := s.authorize(ctx, opExport, note, user, access.Capability.CanRead); err != nil {
		return ExportedDocument{}, err
	}
	stored, err := s.loadNote(s.db.WithContext(ctx), opExport, note)
	if err != nil {
		return ExportedDocument{}, err
	}

	baseName := exportFileName(stored.Title)
	if format == ExportText {
		return ExportedDocument{
			FileName:    baseName + ".txt",
			ContentType: "text/plain; charset=utf-8",
			Content:     []byte(stored.Title + "\n\n" + stored.Body),
		}, nil
	}

	content, err := renderMarkdown(stored)
	if err != nil {
		s.logError(opExport, reasonEncodeFailed, err)
		return ExportedDocument{}, apperr.New(opExport, reasonEncodeFailed, nil, err)
	}
	return ExportedDocument{
		FileName:    baseName + ".md",
		ContentType: "text/markdown; charset=utf-8",
		Content:     content,
	}, nil
}

func renderMarkdown(note Note) ([]byte, error) {
	header, err := yaml.Marshal(frontMatter{
		Title:   note.Title,
		Subject: note.Subject,
		Tags:    note.TagList(),
		Grade:   note.Grade,
		Created: formatMillis(note.CreatedAtMillis),
		Updated: formatMillis(note.UpdatedAtMillis),
	})
	if err != nil {
		return nil, err
	}
	var buffer bytes.Buffer
	buffer.WriteString(frontMatterDelimiter)
	buffer.Write(header)
	buffer.WriteString(frontMatterDelimiter)
	buffer.WriteString("\n# ")
	buffer.WriteString(note.Title)
	buffer.WriteString("\n\n")
	buffer.WriteString(note.Body)
	if !strings.HasSuffix(note.Body, "\n") {
		buffer.WriteString("\n")
	}
	return buffer.Bytes(), nil
}

func formatMillis(millis int64) string {
	return time.UnixMilli(millis).UTC().Format(time.RFC3339)
}

// exportFileName lowercases the title and collapses everything but letters and digits into single dashes.
func exportFileName(title string) string {
	var builder strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && builder.Len() > 0 {
				builder.WriteByte('-')
			}
			builder.WriteRune(r)
			pendingDash = false
			continue
		}
		pendingDash = true
	}
	if builder.Len() == 0 {
		return fallbackFileName
	}
	return builder.String()
}
