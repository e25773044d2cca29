package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"triage/api/internal/apperr"
	"triage/api/internal/attendance"
	"triage/api/internal/auth"
	"triage/api/internal/conversation"
	"triage/api/internal/credential"
	"triage/api/internal/export"
	"triage/api/internal/message"
	"triage/api/internal/metrics"
	"triage/api/internal/objectstore"
	"triage/api/internal/search"
	"triage/api/internal/session"
	"triage/api/internal/store"
	"triage/api/internal/syscheck"
)

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]store.User
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return store.User{}, apperr.ErrNotFound
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, apperr.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) CreateUser(_ context.Context, u store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt, u.UpdatedAt = time.Now(), time.Now()
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, id string, patch store.ProfilePatch) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, apperr.ErrNotFound
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Avatar != nil {
		u.Avatar = patch.Avatar
	}
	if patch.CPFCNPJ != nil {
		u.CPFCNPJ = patch.CPFCNPJ
	}
	f.users[id] = u
	return u, nil
}

type fakeCredentials struct {
	requested []string
	resetErr  error
}

func (f *fakeCredentials) RequestPasswordReset(_ context.Context, email string) error {
	f.requested = append(f.requested, email)
	return nil
}

func (f *fakeCredentials) ResetPassword(context.Context, string, string) error {
	return f.resetErr
}

type fakeConversations struct {
	items    map[string]store.Conversation
	requests []conversation.StatusRequest
}

func (f *fakeConversations) List(_ context.Context, status string) ([]conversation.Summary, error) {
	out := []conversation.Summary{}
	for _, c := range f.items {
		if status != "" && string(c.Status) != status {
			continue
		}
		out = append(out, conversation.Summary{ID: c.ID, ClientName: c.ClientName, Status: string(c.Status), Initials: conversation.Initials(c.ClientName), LastMessage: conversation.NoMessagesPreview})
	}
	return out, nil
}

func (f *fakeConversations) Get(_ context.Context, id string) (store.Conversation, error) {
	c, ok := f.items[id]
	if !ok {
		return store.Conversation{}, apperr.ErrNotFound
	}
	return c, nil
}

func (f *fakeConversations) Transition(_ context.Context, id string, req conversation.StatusRequest) (store.Conversation, error) {
	f.requests = append(f.requests, req)
	c, ok := f.items[id]
	if !ok {
		return store.Conversation{}, apperr.ErrNotFound
	}
	if req.Status == store.StatusRejected && (req.Reason == nil || strings.TrimSpace(*req.Reason) == "") {
		return store.Conversation{}, apperr.Invalid("reason", "is required when rejecting")
	}
	c.Status = req.Status
	c.RejectionReason = req.Reason
	f.items[id] = c
	return c, nil
}

type fakeMessages struct {
	items map[string][]message.Message
}

func (f *fakeMessages) List(_ context.Context, id string) ([]message.Message, error) {
	if f.items[id] == nil {
		return []message.Message{}, nil
	}
	return f.items[id], nil
}

func (f *fakeMessages) Append(_ context.Context, id, text string, isAI bool) (message.Message, error) {
	if strings.TrimSpace(text) == "" {
		return message.Message{}, apperr.Invalid("text", "is required")
	}
	m := message.Message{ID: uuid.NewString(), ConversationID: id, Text: text, IsAI: isAI, ReviewStatus: "pending"}
	f.items[id] = append(f.items[id], m)
	return m, nil
}

func (f *fakeMessages) Review(_ context.Context, id string, approved bool) (message.Message, error) {
	for _, msgs := range f.items {
		for _, m := range msgs {
			if m.ID != id {
				continue
			}
			if !m.IsAI {
				return message.Message{}, apperr.Invalid("message", "only AI messages can be reviewed")
			}
			m.ReviewStatus = "rejected"
			if approved {
				m.ReviewStatus = "approved"
			}
			return m, nil
		}
	}
	return message.Message{}, apperr.ErrNotFound
}

type fakeActivity struct {
	items []store.Activity
}

func (f *fakeActivity) Recent(_ context.Context, limit int) ([]store.Activity, error) {
	if limit <= 0 {
		limit = 10
	}
	if len(f.items) > limit {
		return f.items[:limit], nil
	}
	return f.items, nil
}

func (f *fakeActivity) Record(_ context.Context, entry store.Activity) (store.Activity, error) {
	if entry.Type == "" || entry.Title == "" {
		return store.Activity{}, apperr.Invalid("title", "is required")
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now()
	f.items = append([]store.Activity{entry}, f.items...)
	return entry, nil
}

type fakeStats struct{}

func (fakeStats) Get(context.Context) (store.Stats, error) {
	return store.Stats{Total: 3, Pending: 1, Approved: 1, Rejected: 1, Attendances: 2}, nil
}

type fakeAttendances struct {
	lastFilter attendance.Filter
}

func (f *fakeAttendances) List(_ context.Context, filter attendance.Filter) ([]attendance.Attendance, error) {
	f.lastFilter = filter
	return []attendance.Attendance{{ID: "a1", Name: "Ana", Status: "pending", Date: "2026-01-02"}}, nil
}

func (f *fakeAttendances) Apply(_ context.Context, id string, p attendance.Patch) (attendance.Attendance, error) {
	if id != "a1" {
		return attendance.Attendance{}, apperr.ErrNotFound
	}
	a := attendance.Attendance{ID: "a1", Name: "Ana", Status: "pending"}
	if p.Status != nil {
		a.Status = *p.Status
	}
	return a, nil
}

type fakeExports struct{}

func (fakeExports) Export(_ context.Context, id string, format export.Format) (*export.Result, error) {
	if id != "c1" {
		return nil, apperr.ErrNotFound
	}
	if format == export.FormatPDF {
		return nil, export.ErrPDFDependencyMissing
	}
	return &export.Result{
		Data:     []byte("[2026-01-02 10:00:00 UTC] Ana Lima: oi\n"),
		Filename: export.Filename("Ana Lima", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), format),
		MimeType: format.MimeType(),
		Format:   format,
	}, nil
}

type fakeArchiver struct{}

func (fakeArchiver) ArchiveTranscript(_ context.Context, id string) (objectstore.Archived, error) {
	return objectstore.Archived{Key: "transcripts/" + id + "/2026-01-02.txt", URL: "https://objects.test/x"}, nil
}

type fakeSearch struct {
	last search.Query
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.last = q
	return search.Response{Results: []search.Result{{Type: search.ResultConversation, ID: "c1", Title: "Ana Lima"}}, Total: 1, Query: q.Text, Engine: "pgfts"}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type harness struct {
	server        *HTTPServer
	users         *fakeUsers
	sessions      *session.Manager
	credentials   *fakeCredentials
	conversations *fakeConversations
	messages      *fakeMessages
	activity      *fakeActivity
	attendances   *fakeAttendances
	search        *fakeSearch
	db            *fakePinger
}

func newHarness(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		users:       &fakeUsers{users: map[string]store.User{}},
		credentials: &fakeCredentials{},
		conversations: &fakeConversations{items: map[string]store.Conversation{
			"c1": {ID: "c1", ClientName: "Ana Lima", ClientPhone: "11999990000", Status: store.StatusPending},
		}},
		messages:    &fakeMessages{items: map[string][]message.Message{}},
		activity:    &fakeActivity{},
		attendances: &fakeAttendances{},
		search:      &fakeSearch{},
		db:          &fakePinger{},
	}
	hash, err := credential.Hash("123456")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h.users.users["u1"] = store.User{ID: "u1", Email: "admin@teste.com", Name: "Administrador Teste", PasswordHash: hash, Active: true}
	h.sessions = session.NewManager(h.users, session.NewMemorySnapshotStore())

	checker := syscheck.NewChecker(time.Second)
	checker.Add("database", func(ctx context.Context) error { return h.db.Ping(ctx) })

	deps := Deps{
		Sessions:      h.sessions,
		Tokens:        auth.NewIssuer("test-secret", time.Hour),
		Credentials:   h.credentials,
		Conversations: h.conversations,
		Messages:      h.messages,
		Activity:      h.activity,
		Stats:         fakeStats{},
		Attendances:   h.attendances,
		Exports:       fakeExports{},
		Archiver:      fakeArchiver{},
		Search:        h.search,
		Checker:       checker,
		DB:            h.db,
		Metrics:       metrics.New(nil),
	}
	for _, m := range mutate {
		m(&deps)
	}
	h.server = NewHTTPServer(deps)
	return h
}
