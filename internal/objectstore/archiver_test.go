package objectstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"triage/api/internal/apperr"
	"triage/api/internal/export"
)

type memBucket struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *memBucket) Put(_ context.Context, key string, data []byte, contentType string) error {
	b.objects[key] = data
	b.types[key] = contentType
	return nil
}

func (b *memBucket) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	if _, ok := b.objects[key]; !ok {
		return "", errors.New("missing object")
	}
	return "https://objects.test/" + key + "?ttl=" + ttl.String(), nil
}

type stubExporter struct {
	err error
}

func (s stubExporter) Generate(_ context.Context, id string, format export.Format) (*export.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &export.Result{Data: []byte("transcript " + id), MimeType: format.MimeType(), Format: format}, nil
}

func TestArchiveTranscript(t *testing.T) {
	bucket := newMemBucket()
	a := NewArchiver(bucket, stubExporter{}, nil)
	fixed := time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	got, err := a.ArchiveTranscript(context.Background(), "c1")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if got.Key != "transcripts/c1/2026-03-09.txt" {
		t.Fatalf("unexpected key %q", got.Key)
	}
	if string(bucket.objects[got.Key]) != "transcript c1" {
		t.Fatalf("unexpected object body %q", bucket.objects[got.Key])
	}
	if bucket.types[got.Key] != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected content type %q", bucket.types[got.Key])
	}
	if got.URL != "https://objects.test/transcripts/c1/2026-03-09.txt?ttl=15m0s" {
		t.Fatalf("unexpected url %q", got.URL)
	}
	if !got.ExpiresAt.Equal(fixed.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", got.ExpiresAt)
	}
}

func TestArchiveTranscriptMissingConversation(t *testing.T) {
	bucket := newMemBucket()
	a := NewArchiver(bucket, stubExporter{err: apperr.ErrNotFound}, nil)
	if _, err := a.ArchiveTranscript(context.Background(), "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(bucket.objects) != 0 {
		t.Fatal("nothing should be uploaded")
	}
}
