package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"triage/api/internal/store"
)

// LineTimeLayout formats the bracketed timestamp of every transcript line.
const LineTimeLayout = "2006-01-02 15:04:05"

// Build assembles a transcript from a conversation and its ordered messages.
func Build(c store.Conversation, messages []store.Message, generatedAt time.Time) Transcript {
	t := Transcript{
		ConversationID: c.ID,
		ClientName:     c.ClientName,
		ClientPhone:    c.ClientPhone,
		Status:         string(c.Status),
		GeneratedAt:    generatedAt,
		Lines:          make([]Line, 0, len(messages)),
	}
	if c.RejectionReason != nil {
		t.RejectionReason = *c.RejectionReason
	}
	for _, m := range messages {
		speaker := c.ClientName
		if m.IsAI {
			speaker = AISpeaker
		}
		ts := m.Timestamp
		if ts.IsZero() {
			ts = m.CreatedAt
		}
		t.Lines = append(t.Lines, Line{
			Timestamp:    ts,
			Speaker:      speaker,
			Text:         m.Text,
			IsAI:         m.IsAI,
			ReviewStatus: string(m.ReviewStatus),
		})
	}
	return t
}

// PlainText renders one "[timestamp] speaker: text" line per message. Line breaks
// inside a message are flattened so every message stays on one line.
func PlainText(t Transcript) []byte {
	var buf bytes.Buffer
	for _, line := range t.Lines {
		fmt.Fprintf(&buf, "[%s] %s: %s\n", line.Timestamp.UTC().Format(LineTimeLayout), line.Speaker, flatten(line.Text))
	}
	return buf.Bytes()
}

func CSV(t Transcript) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"timestamp", "speaker", "text", "review_status"}); err != nil {
		return nil, err
	}
	for _, line := range t.Lines {
		review := line.ReviewStatus
		if !line.IsAI {
			review = ""
		}
		if err := w.Write([]string{line.Timestamp.UTC().Format(time.RFC3339), line.Speaker, line.Text, review}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Filename returns transcript-<client-slug>-<YYYY-MM-DD>.<ext>.
func Filename(clientName string, date time.Time, format Format) string {
	return fmt.Sprintf("transcript-%s-%s.%s", slug(clientName), date.Format(time.DateOnly), format)
}

func flatten(text string) string {
	return strings.Join(strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' }), " ")
}

// Letters that carry no combining mark under NFD.
var ligatures = strings.NewReplacer("œ", "oe", "æ", "ae", "ß", "ss", "ø", "o", "ł", "l", "đ", "d", "þ", "th")

// foldAccents strips combining marks, so "Conceição" becomes "Conceicao".
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return ligatures.Replace(out)
}

// slug lowercases name, folds accents and keeps ASCII letters and digits,
// joining words with hyphens.
func slug(name string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range foldAccents(strings.ToLower(name)) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		default:
			pendingDash = true
		}
		if b.Len() >= 50 {
			break
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "cliente"
	}
	return out
}
