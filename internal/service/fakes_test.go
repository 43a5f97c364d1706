package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/port/backend"
	"github.com/Strob0t/flowgate/internal/port/messagequeue"
	"github.com/Strob0t/flowgate/internal/port/notifier"
)

// memStore is an in-memory approvalstore.Store with the same
// compare-and-set semantics as the SQL stores.
type memStore struct {
	mu      sync.Mutex
	reqs    map[string]hitl.Request
	created int
	failGet error
}

func newMemStore() *memStore { return &memStore{reqs: map[string]hitl.Request{}} }

func (s *memStore) CreateRequest(_ context.Context, req *hitl.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs[req.ID] = *req
	s.created++
	return nil
}

func (s *memStore) GetRequest(_ context.Context, id string) (*hitl.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	r, ok := s.reqs[id]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	return &r, nil
}

func (s *memStore) CompareAndSetStatus(_ context.Context, id string, expected, next hitl.Status, t hitl.Transition) (*hitl.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reqs[id]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	if r.Status != expected {
		return nil, domain.ErrConflict
	}
	r.Status = next
	r.DecidedBy = t.DecidedBy
	at := t.DecidedAt
	r.DecidedAt = &at
	r.Decision = t.Decision
	r.ErrorDetail = t.ErrorDetail
	s.reqs[id] = r
	return &r, nil
}

func (s *memStore) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]hitl.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []hitl.Request
	for _, r := range s.reqs {
		if r.Status == hitl.StatusPending && !r.ExpiresAt.After(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) AttachMessage(_ context.Context, id, msg, conv string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reqs[id]
	if !ok {
		return domain.ErrRequestNotFound
	}
	r.MessageHandle, r.ConversationHandle = msg, conv
	s.reqs[id] = r
	return nil
}

func (s *memStore) RecordOutcome(_ context.Context, id string, o hitl.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reqs[id]
	if !ok {
		return domain.ErrRequestNotFound
	}
	if (r.Status != hitl.StatusApproved && r.Status != hitl.StatusModified) || r.Result != nil || r.ErrorDetail != "" {
		return domain.ErrConflict
	}
	r.Result, r.ErrorDetail = o.Result, o.ErrorDetail
	s.reqs[id] = r
	return nil
}

func (s *memStore) ListRequests(_ context.Context, f hitl.Filter) ([]hitl.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []hitl.Request
	for _, r := range s.reqs {
		if f.Status == "" || r.Status == f.Status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) Ping(context.Context) error { return nil }

func (s *memStore) get(id string) hitl.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[id]
}

// fakeNotifier records prompts and updates.
type fakeNotifier struct {
	mu      sync.Mutex
	sent    []string
	actions [][]notifier.Action
	updates []string
	sendErr error
}

func (n *fakeNotifier) Name() string                        { return "fake" }
func (n *fakeNotifier) Capabilities() notifier.Capabilities { return notifier.Capabilities{Actions: true, Updates: true} }

func (n *fakeNotifier) Send(_ context.Context, _, text string, actions []notifier.Action) (notifier.Handle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return notifier.Handle{}, n.sendErr
	}
	n.sent = append(n.sent, text)
	n.actions = append(n.actions, actions)
	return notifier.Handle{MessageID: "m-1", Conversation: "chat-1"}, nil
}

func (n *fakeNotifier) SendUpdate(_ context.Context, _ string, _ notifier.Handle, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, text)
	return nil
}

func (n *fakeNotifier) updateCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.updates)
}

// fakeQueue records published subjects.
type fakeQueue struct {
	mu       sync.Mutex
	subjects []string
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subjects = append(q.subjects, subject)
	return nil
}

func (q *fakeQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func (q *fakeQueue) published() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.subjects...)
}

// scriptedClient fails the n-th call with errs[n-1], when set, and
// answers body otherwise.
type scriptedClient struct {
	mu    sync.Mutex
	errs  []error
	body  string
	calls int
}

func (c *scriptedClient) Do(context.Context, backend.Request) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= len(c.errs) && c.errs[c.calls-1] != nil {
		return nil, c.errs[c.calls-1]
	}
	return json.RawMessage(c.body), nil
}
