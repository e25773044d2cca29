// Package archive keeps a git audit trail of review decisions. Each conversation
// owns a directory holding its latest transcript and decision.json.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"triage/api/internal/conversation"
	"triage/api/internal/export"
	"triage/api/internal/store"
)

const (
	transcriptFile = "transcript.txt"
	decisionFile   = "decision.json"
	mainBranch     = "main"
)

// TranscriptSource renders the text transcript of a conversation.
type TranscriptSource interface {
	Generate(ctx context.Context, conversationID string, format export.Format) (*export.Result, error)
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir     string
	transcripts TranscriptSource
	logger      *zap.Logger
	mu          sync.Mutex
}

func New(baseDir string, transcripts TranscriptSource, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{baseDir: baseDir, transcripts: transcripts, logger: logger}
}

// RecordDecision commits d, so Service can be used directly as a conversation.Auditor.
func (s *Service) RecordDecision(ctx context.Context, d conversation.Decision) error {
	_, err := s.CommitDecision(ctx, d)
	return err
}

// CommitDecision writes the current transcript and decision.json for the conversation
// and commits both.
func (s *Service) CommitDecision(ctx context.Context, d conversation.Decision) (CommitInfo, error) {
	if strings.TrimSpace(d.ConversationID) == "" || strings.ContainsAny(d.ConversationID, `/\.`) {
		return CommitInfo{}, fmt.Errorf("invalid conversation id %q", d.ConversationID)
	}
	var transcript []byte
	if s.transcripts != nil {
		res, err := s.transcripts.Generate(ctx, d.ConversationID, export.FormatText)
		if err != nil {
			return CommitInfo{}, fmt.Errorf("render transcript: %w", err)
		}
		transcript = res.Data
	}
	decision, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal decision: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.openOrInit()
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	dir := filepath.Join(s.baseDir, d.ConversationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CommitInfo{}, fmt.Errorf("create conversation dir: %w", err)
	}
	files := map[string][]byte{
		transcriptFile: transcript,
		decisionFile:   append(decision, '\n'),
	}
	for name, payload := range files {
		if err := os.WriteFile(filepath.Join(dir, name), payload, 0o644); err != nil {
			return CommitInfo{}, fmt.Errorf("write %s: %w", name, err)
		}
		if _, err := worktree.Add(d.ConversationID + "/" + name); err != nil {
			return CommitInfo{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	when := d.DecidedAt
	if when.IsZero() {
		when = time.Now()
	}
	author := d.ActorName
	if strings.TrimSpace(author) == "" {
		author = "triage"
	}
	hash, err := worktree.Commit(commitMessage(d), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@triage.local", sanitizeEmail(author)),
			When:  when,
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit decision: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	s.logger.Info("decision archived",
		zap.String("conversation_id", d.ConversationID),
		zap.String("status", string(d.Status)),
		zap.String("commit", hash.String()[:7]),
	)
	return toCommitInfo(commitObj), nil
}

// History lists the decision commits of one conversation, newest first.
func (s *Service) History(_ context.Context, conversationID string, limit int) ([]CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]CommitInfo, 0)
	repo, err := git.PlainOpen(s.baseDir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	prefix := conversationID + "/"
	iter, err := repo.Log(&git.LogOptions{
		From:       head.Hash(),
		PathFilter: func(path string) bool { return strings.HasPrefix(path, prefix) },
	})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Decision reads the decision.json committed at hash.
func (s *Service) Decision(conversationID, hash string) (conversation.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.baseDir)
	if err != nil {
		return conversation.Decision{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return conversation.Decision{}, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return conversation.Decision{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(conversationID + "/" + decisionFile)
	if err != nil {
		return conversation.Decision{}, fmt.Errorf("load decision from commit: %w", err)
	}
	contents, err := file.Contents()
	if err != nil {
		return conversation.Decision{}, fmt.Errorf("read decision: %w", err)
	}
	var d conversation.Decision
	if err := json.Unmarshal([]byte(contents), &d); err != nil {
		return conversation.Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	return d, nil
}

func (s *Service) openOrInit() (*git.Repository, error) {
	repo, err := git.PlainOpen(s.baseDir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	repo, err = git.PlainInit(s.baseDir, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func commitMessage(d conversation.Decision) string {
	subject := fmt.Sprintf("%s conversation with %s", verb(d.Status), d.ClientName)
	if d.Reason != nil && strings.TrimSpace(*d.Reason) != "" {
		return subject + "\n\nreason: " + strings.TrimSpace(*d.Reason)
	}
	return subject
}

func verb(status store.ConversationStatus) string {
	switch status {
	case store.StatusApproved:
		return "Approve"
	case store.StatusRejected:
		return "Reject"
	default:
		return "Update"
	}
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range strings.ToLower(input) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "operator"
	}
	return string(out)
}
