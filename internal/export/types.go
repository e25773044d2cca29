// Package export renders conversation transcripts as text, CSV and PDF.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Format string

const (
	FormatText Format = "txt"
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
)

func ParseFormat(value string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(value))); f {
	case "", "text":
		return FormatText, nil
	case FormatText, FormatCSV, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", value)
	}
}

func (f Format) MimeType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/plain; charset=utf-8"
	}
}

// AISpeaker labels AI-authored lines.
const AISpeaker = "AI"

// Line is one message in a transcript.
type Line struct {
	Timestamp    time.Time
	Speaker      string
	Text         string
	IsAI         bool
	ReviewStatus string
}

// Transcript is a conversation's messages in creation order.
type Transcript struct {
	ConversationID  string
	ClientName      string
	ClientPhone     string
	Status          string
	RejectionReason string
	GeneratedAt     time.Time
	Lines           []Line
}

// Result is a rendered transcript ready to be served or stored.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	Format   Format
}

var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
