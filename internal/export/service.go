package export

import (
	"context"
	"fmt"
	"time"

	"triage/api/internal/store"
)

type Store interface {
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]store.Message, error)
}

type Metrics interface {
	Export(format string)
}

type Service struct {
	store   Store
	pdf     PDFRenderer
	metrics Metrics
	now     func() time.Time
}

type Option func(*Service)

func WithPDFRenderer(r PDFRenderer) Option { return func(s *Service) { s.pdf = r } }
func WithMetrics(m Metrics) Option         { return func(s *Service) { s.metrics = m } }
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st Store, opts ...Option) *Service {
	s := &Service{store: st, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transcript loads a conversation and its messages in creation order.
func (s *Service) Transcript(ctx context.Context, conversationID string) (Transcript, error) {
	c, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return Transcript{}, err
	}
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return Transcript{}, err
	}
	return Build(c, msgs, s.now()), nil
}

// Export renders the conversation's transcript in format for a user download
// and counts it. A conversation without messages renders an empty text transcript.
func (s *Service) Export(ctx context.Context, conversationID string, format Format) (*Result, error) {
	res, err := s.Generate(ctx, conversationID, format)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.Export(string(format))
	}
	return res, nil
}

// Generate renders the transcript without counting it as a download. Archival
// snapshots go through here.
func (s *Service) Generate(ctx context.Context, conversationID string, format Format) (*Result, error) {
	t, err := s.Transcript(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return s.Render(ctx, t, format)
}

func (s *Service) Render(ctx context.Context, t Transcript, format Format) (*Result, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatText:
		data = PlainText(t)
	case FormatCSV:
		data, err = CSV(t)
	case FormatPDF:
		if s.pdf == nil {
			return nil, fmt.Errorf("%w: no pdf renderer configured", ErrPDFDependencyMissing)
		}
		var html string
		html, err = RenderHTML(t)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		data, err = s.pdf.RenderPDF(ctx, html)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     data,
		Filename: Filename(t.ClientName, t.GeneratedAt, format),
		MimeType: format.MimeType(),
		Format:   format,
	}, nil
}
