package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publisher"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []clockWaiter
}

type clockWaiter struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, clockWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

func (c *fakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// memPostStore applies the same conditional transitions as the SQL store.
type memPostStore struct {
	mu        sync.Mutex
	posts     map[int64]*models.Post
	fetches   int
	fetchErr  error
	updateErr error
}

func newMemPostStore(posts ...*models.Post) *memPostStore {
	s := &memPostStore{posts: map[int64]*models.Post{}}
	for _, p := range posts {
		s.posts[p.ID] = p
	}
	return s
}

func copyPost(p *models.Post) *models.Post {
	cp := *p
	cp.Targets = make([]*models.PostTarget, len(p.Targets))
	for i, t := range p.Targets {
		tc := *t
		cp.Targets[i] = &tc
	}
	cp.MediaRefs = append([]string(nil), p.MediaRefs...)
	return &cp
}

func effectiveDue(p *models.Post) time.Time {
	if p.NextAttemptAt != nil {
		return *p.NextAttemptAt
	}
	return p.ScheduledTime
}

func (s *memPostStore) FetchDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var due []*models.Post
	for _, p := range s.posts {
		if p.Status == models.PostStatusScheduled && !effectiveDue(p).After(now) {
			due = append(due, copyPost(p))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !effectiveDue(due[i]).Equal(effectiveDue(due[j])) {
			return effectiveDue(due[i]).Before(effectiveDue(due[j]))
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memPostStore) Claim(ctx context.Context, id int64, expected models.PostStatus, owner string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok || p.Status != expected {
		return models.ErrClaimConflict
	}
	p.Status = models.PostStatusClaimed
	p.ClaimedBy = owner
	p.ClaimedAt = &now
	return nil
}

func (s *memPostStore) MarkPublishing(ctx context.Context, id int64, owner string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok || p.Status != models.PostStatusClaimed || p.ClaimedBy != owner {
		return models.ErrClaimConflict
	}
	p.Status = models.PostStatusPublishing
	p.ClaimedAt = &now
	return nil
}

func (s *memPostStore) Heartbeat(ctx context.Context, id int64, owner string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok || p.Status != models.PostStatusPublishing || p.ClaimedBy != owner {
		return models.ErrClaimConflict
	}
	p.ClaimedAt = &now
	return nil
}

func (s *memPostStore) UpdateStatus(ctx context.Context, id int64, u models.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	p, ok := s.posts[id]
	if !ok || p.ClaimedBy != u.Owner ||
		(p.Status != models.PostStatusClaimed && p.Status != models.PostStatusPublishing) {
		return models.ErrClaimConflict
	}
	p.Status = u.Status
	p.RetryCount = u.RetryCount
	p.NextAttemptAt = u.NextAttemptAt
	p.ResultSummary = u.ResultSummary
	p.ClaimedBy = ""
	p.ClaimedAt = nil
	return nil
}

func (s *memPostStore) RecoverStale(ctx context.Context, staleBefore, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.posts {
		if (p.Status == models.PostStatusClaimed || p.Status == models.PostStatusPublishing) &&
			p.ClaimedAt != nil && p.ClaimedAt.Before(staleBefore) {
			p.Status = models.PostStatusScheduled
			p.NextAttemptAt = &now
			p.ClaimedBy = ""
			p.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *memPostStore) get(id int64) models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *copyPost(s.posts[id])
}

type memAttemptStore struct {
	mu        sync.Mutex
	attempts  []*models.PublishAttempt
	createErr error
}

func (s *memAttemptStore) Create(ctx context.Context, a *models.PublishAttempt) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return 0, s.createErr
	}
	for _, b := range s.attempts {
		if b.PostID == a.PostID && b.Key() == a.Key() && b.AttemptNumber == a.AttemptNumber {
			return 0, fmt.Errorf("duplicate attempt %d for %v", a.AttemptNumber, a.Key())
		}
	}
	cp := *a
	cp.ID = int64(len(s.attempts) + 1)
	s.attempts = append(s.attempts, &cp)
	return cp.ID, nil
}

func (s *memAttemptStore) ListByPostID(ctx context.Context, postID int64) ([]*models.PublishAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PublishAttempt
	for _, a := range s.attempts {
		if a.PostID == postID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memAttemptStore) forPost(postID int64) []*models.PublishAttempt {
	out, _ := s.ListByPostID(context.Background(), postID)
	return out
}

// fakeCreds hands out "token-<account>" and refreshes expired accounts.
type fakeCreds struct {
	mu        sync.Mutex
	expired   map[int64]bool
	getErr    map[int64]error
	forceErr  error
	refreshes int
	gets      int
}

func newFakeCreds() *fakeCreds {
	return &fakeCreds{expired: map[int64]bool{}, getErr: map[int64]error{}}
}

func (f *fakeCreds) GetValid(ctx context.Context, platform string, accountID int64) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if err := f.getErr[accountID]; err != nil {
		return nil, err
	}
	token := fmt.Sprintf("token-%d", accountID)
	if f.expired[accountID] {
		f.refreshes++
		f.expired[accountID] = false
		token = fmt.Sprintf("refreshed-%d", accountID)
	}
	return &models.Credential{AccountID: accountID, Platform: platform, AccessToken: token}, nil
}

func (f *fakeCreds) ForceRefresh(ctx context.Context, platform string, accountID int64) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.forceErr != nil {
		return nil, f.forceErr
	}
	return &models.Credential{AccountID: accountID, Platform: platform, AccessToken: fmt.Sprintf("forced-%d", accountID)}, nil
}

// stubPublisher answers Publish with the queued results in order, repeating
// the last one.
type stubPublisher struct {
	platform string
	validate func(publisher.Content) publisher.ValidationResult
	mu       sync.Mutex
	results  []stubResult
	calls    atomic.Int32
	tokens   []string
	block    bool

	// onPublish runs inside the n-th call, before it returns.
	onPublish func(n int)
}

type stubResult struct {
	id  string
	err error
}

func newStub(platform string, results ...stubResult) *stubPublisher {
	return &stubPublisher{platform: platform, results: results}
}

func succeed(id string) stubResult { return stubResult{id: id} }

func fail(err error) stubResult { return stubResult{err: err} }

func (p *stubPublisher) Platform() string { return p.platform }

func (p *stubPublisher) Validate(c publisher.Content) publisher.ValidationResult {
	if p.validate != nil {
		return p.validate(c)
	}
	return publisher.ValidationResult{Platform: p.platform}
}

func (p *stubPublisher) Publish(ctx context.Context, cred *models.Credential, c publisher.Content) (string, error) {
	n := int(p.calls.Add(1))
	p.mu.Lock()
	p.tokens = append(p.tokens, cred.AccessToken)
	r := p.results[min(n, len(p.results))-1]
	block, hook := p.block, p.onPublish
	p.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.id, r.err
}

func (p *stubPublisher) seenTokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tokens...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	posts []models.Post
	err   error
}

func (n *recordingNotifier) PostFinalized(ctx context.Context, post *models.Post) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.posts = append(n.posts, *post)
	return n.err
}

type countingMetrics struct {
	mu        sync.Mutex
	ticks     int
	tickErrs  int
	outcomes  map[models.AttemptOutcome]int
	statuses  map[models.PostStatus]int
	recovered int64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{outcomes: map[models.AttemptOutcome]int{}, statuses: map[models.PostStatus]int{}}
}

func (m *countingMetrics) ObserveTick(d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++
	if err != nil {
		m.tickErrs++
	}
}

func (m *countingMetrics) ObserveAttempt(platform string, outcome models.AttemptOutcome, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *countingMetrics) ObservePost(status models.PostStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status]++
}

func (m *countingMetrics) ObserveRecovered(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recovered += n
}

var errUpstream = errors.New("upstream unavailable")
