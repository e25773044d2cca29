package objectstore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"triage/api/internal/export"
)

// Bucket is the object storage the archiver writes to.
type Bucket interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Exporter renders a conversation transcript.
type Exporter interface {
	Generate(ctx context.Context, conversationID string, format export.Format) (*export.Result, error)
}

// Archived describes an uploaded transcript.
type Archived struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Archiver struct {
	bucket   Bucket
	exporter Exporter
	logger   *zap.Logger
	now      func() time.Time
}

func NewArchiver(bucket Bucket, exporter Exporter, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{bucket: bucket, exporter: exporter, logger: logger, now: time.Now}
}

// TranscriptKey is the object key of a conversation's text transcript for a given day.
func TranscriptKey(conversationID string, day time.Time) string {
	return fmt.Sprintf("transcripts/%s/%s.txt", conversationID, day.UTC().Format("2006-01-02"))
}

// ArchiveTranscript uploads the text transcript and returns a presigned download link.
func (a *Archiver) ArchiveTranscript(ctx context.Context, conversationID string) (Archived, error) {
	res, err := a.exporter.Generate(ctx, conversationID, export.FormatText)
	if err != nil {
		return Archived{}, err
	}
	now := a.now()
	key := TranscriptKey(conversationID, now)
	if err := a.bucket.Put(ctx, key, res.Data, res.MimeType); err != nil {
		return Archived{}, err
	}
	url, err := a.bucket.PresignGet(ctx, key, PresignTTL)
	if err != nil {
		return Archived{}, err
	}
	a.logger.Info("transcript archived", zap.String("conversation_id", conversationID), zap.String("key", key))
	return Archived{Key: key, URL: url, ExpiresAt: now.Add(PresignTTL)}, nil
}
