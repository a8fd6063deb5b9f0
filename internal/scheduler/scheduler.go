// Package scheduler runs the publish loop: every interval it sweeps stale
// claims, fetches due posts, claims each one and fans it out to the
// publishers of its targets. Every publish call leaves a PublishAttempt, and
// the post is either rescheduled for its transient failures or settled with
// an aggregate status.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publisher"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
)

type PostStore interface {
	FetchDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error)
	Claim(ctx context.Context, id int64, expected models.PostStatus, owner string, now time.Time) error
	MarkPublishing(ctx context.Context, id int64, owner string, now time.Time) error
	Heartbeat(ctx context.Context, id int64, owner string, now time.Time) error
	UpdateStatus(ctx context.Context, id int64, u models.StatusUpdate) error
	RecoverStale(ctx context.Context, staleBefore, now time.Time) (int64, error)
}

type AttemptStore interface {
	Create(ctx context.Context, a *models.PublishAttempt) (int64, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PublishAttempt, error)
}

type CredentialProvider interface {
	GetValid(ctx context.Context, platform string, accountID int64) (*models.Credential, error)
	ForceRefresh(ctx context.Context, platform string, accountID int64) (*models.Credential, error)
}

// Notifier hears about posts that reached a terminal status. Failures are
// logged and never undo the status.
type Notifier interface {
	PostFinalized(ctx context.Context, post *models.Post) error
}

type Metrics interface {
	ObserveTick(d time.Duration, err error)
	ObserveAttempt(platform string, outcome models.AttemptOutcome, d time.Duration)
	ObservePost(status models.PostStatus)
	ObserveRecovered(n int64)
}

type Config struct {
	Interval       time.Duration
	MaxRetries     int
	Backoff        Backoff
	CallTimeout    time.Duration
	Concurrency    int
	BatchSize      int
	StaleThreshold time.Duration
}

func NewConfig(c config.Scheduler) Config {
	return Config{
		Interval:       c.Interval,
		MaxRetries:     c.MaxRetries,
		Backoff:        NewBackoff(c.RetryBackoff, c.RetryDelay, c.RetryMaxDelay),
		CallTimeout:    c.CallTimeout,
		Concurrency:    c.Concurrency,
		BatchSize:      c.BatchSize,
		StaleThreshold: c.StaleThreshold,
	}
}

type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithInstanceID sets the owner recorded on claims. Each running instance
// needs its own.
func WithInstanceID(id string) Option {
	return func(s *Scheduler) { s.id = id }
}

type Scheduler struct {
	cfg        Config
	posts      PostStore
	attempts   AttemptStore
	creds      CredentialProvider
	publishers *publisher.Registry
	media      publisher.MediaSource

	clock    Clock
	notifier Notifier
	metrics  Metrics
	logger   *slog.Logger
	id       string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

func New(
	cfg Config,
	posts PostStore,
	attempts AttemptStore,
	creds CredentialProvider,
	publishers *publisher.Registry,
	media publisher.MediaSource,
	opts ...Option) *Scheduler {
	if cfg.Backoff == nil {
		cfg.Backoff = Fixed{}
	}
	s := &Scheduler{
		cfg:        cfg,
		posts:      posts,
		attempts:   attempts,
		creds:      creds,
		publishers: publishers,
		media:      media,
		clock:      SystemClock(),
		metrics:    nopMetrics{},
		logger:     slog.Default(),
		id:         "dispatcher-" + gonanoid.Must(10),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) InstanceID() string { return s.id }

// Start runs a tick now and then one every interval until Stop is called or
// ctx is done. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})

	s.logger.Info("scheduler starting",
		slog.String("instance", s.id),
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("concurrency", s.cfg.Concurrency))
	go s.loop(runCtx, s.stopCh, s.done)
}

// Stop waits for the running tick to finish. When ctx ends first the tick is
// cancelled; its posts stay claimed until the recovery sweep returns them.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done, cancel := s.done, s.cancel
	s.mu.Unlock()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out, cancelling tick")
		cancel()
		<-done
	}
	cancel()
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("tick aborted", slog.String("error", err.Error()))
		}
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-s.clock.After(s.cfg.Interval):
		}
	}
}

// Tick runs one cycle. A store failure aborts it and is returned; posts it
// left claimed are picked up by a later sweep.
func (s *Scheduler) Tick(ctx context.Context) (err error) {
	start := s.clock.Now()
	defer func() { s.metrics.ObserveTick(s.clock.Now().Sub(start), err) }()

	now := s.clock.Now()
	if s.cfg.StaleThreshold > 0 {
		var recovered int64
		err := s.call(ctx, func(ctx context.Context) (err error) {
			recovered, err = s.posts.RecoverStale(ctx, now.Add(-s.cfg.StaleThreshold), now)
			return err
		})
		if err != nil {
			return fmt.Errorf("recover stale posts: %w", err)
		}
		if recovered > 0 {
			s.logger.Warn("recovered stale posts", slog.Int64("count", recovered))
			s.metrics.ObserveRecovered(recovered)
		}
	}

	var due []*models.Post
	err = s.call(ctx, func(ctx context.Context) (err error) {
		due, err = s.posts.FetchDue(ctx, now, s.cfg.BatchSize)
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch due posts: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	s.logger.Info("dispatching due posts", slog.Int("count", len(due)))

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.Concurrency > 0 {
		g.SetLimit(s.cfg.Concurrency)
	}
	for _, post := range due {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return s.dispatch(gctx, post)
		})
	}
	return g.Wait()
}

func (s *Scheduler) dispatch(ctx context.Context, post *models.Post) error {
	log := s.logger.With(slog.Int64("post_id", post.ID))

	now := s.clock.Now()
	err := s.call(ctx, func(ctx context.Context) error {
		return s.posts.Claim(ctx, post.ID, models.PostStatusScheduled, s.id, now)
	})
	if errors.Is(err, models.ErrClaimConflict) {
		log.Debug("post claimed by another dispatcher")
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim post %d: %w", post.ID, err)
	}

	err = s.call(ctx, func(ctx context.Context) error {
		return s.posts.MarkPublishing(ctx, post.ID, s.id, s.clock.Now())
	})
	if errors.Is(err, models.ErrClaimConflict) {
		log.Warn("claim lost before publishing")
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark post %d publishing: %w", post.ID, err)
	}

	var history []*models.PublishAttempt
	err = s.call(ctx, func(ctx context.Context) (err error) {
		history, err = s.attempts.ListByPostID(ctx, post.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("load attempts of post %d: %w", post.ID, err)
	}

	latest := latestAttempts(history)
	var pending []*models.PostTarget
	for _, t := range post.Targets {
		if a := latest[t.Key()]; settled(a) {
			log.Debug("target already settled", slog.String("platform", t.Platform), slog.Int64("account_id", t.AccountID))
			continue
		}
		pending = append(pending, t)
	}

	content := publisher.NewContent(post, s.media)
	results := make([]*models.PublishAttempt, len(pending))
	var g errgroup.Group
	for i, t := range pending {
		number := 1
		if a, ok := latest[t.Key()]; ok {
			number = a.AttemptNumber + 1
		}
		g.Go(func() error {
			a, err := s.attempt(ctx, post, t, content, number, log)
			if err != nil {
				return err
			}
			err = s.call(ctx, func(ctx context.Context) (err error) {
				a.ID, err = s.attempts.Create(ctx, a)
				return err
			})
			if err != nil {
				return fmt.Errorf("record %s attempt of post %d: %w", t.Platform, post.ID, err)
			}
			results[i] = a
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = s.heartbeat(ctx, post)
	}
	if errors.Is(err, models.ErrClaimConflict) {
		log.Warn("claim lost while publishing")
		return nil
	}
	if err != nil {
		return err
	}

	return s.settle(ctx, post, append(history, results...), results, log)
}

// settle reschedules the post when this pass left a transient failure and
// retries remain. Otherwise it writes the aggregate status.
func (s *Scheduler) settle(ctx context.Context, post *models.Post, all, pass []*models.PublishAttempt, log *slog.Logger) error {
	retry := false
	for _, a := range pass {
		if a.Outcome == models.OutcomeTransientFailure {
			retry = true
		}
	}

	update := models.StatusUpdate{
		Owner:         s.id,
		RetryCount:    post.RetryCount,
		ResultSummary: Summarize(post.Targets, all),
	}
	if retry && post.RetryCount < s.cfg.MaxRetries {
		next := s.clock.Now().Add(s.cfg.Backoff.Delay(post.RetryCount + 1))
		update.Status = models.PostStatusScheduled
		update.RetryCount = post.RetryCount + 1
		update.NextAttemptAt = &next
	} else {
		update.Status = Aggregate(finalOutcomes(post.Targets, all))
	}

	err := s.call(ctx, func(ctx context.Context) error {
		return s.posts.UpdateStatus(ctx, post.ID, update)
	})
	if errors.Is(err, models.ErrClaimConflict) {
		log.Warn("claim lost before status update", slog.String("status", string(update.Status)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("update post %d: %w", post.ID, err)
	}
	s.metrics.ObservePost(update.Status)

	post.Status = update.Status
	post.RetryCount = update.RetryCount
	post.NextAttemptAt = update.NextAttemptAt
	post.ResultSummary = update.ResultSummary

	if update.Status == models.PostStatusScheduled {
		log.Info("post rescheduled", slog.Int("retry", update.RetryCount), slog.Time("next_attempt_at", *update.NextAttemptAt))
		return nil
	}

	log.Info("post settled", slog.String("status", string(update.Status)))
	if s.notifier != nil {
		if err := s.notifier.PostFinalized(ctx, post); err != nil {
			log.Error("notify finalized post", slog.String("error", err.Error()))
		}
	}
	return nil
}

// attempt runs one target and describes the result. Publish errors become
// the attempt's outcome; a store failure or a lost claim is returned instead
// and nothing is recorded.
func (s *Scheduler) attempt(ctx context.Context, post *models.Post, t *models.PostTarget, c publisher.Content, number int, log *slog.Logger) (*models.PublishAttempt, error) {
	log = log.With(slog.String("platform", t.Platform), slog.Int64("account_id", t.AccountID), slog.Int("attempt", number))

	start := s.clock.Now()
	remoteID, err := s.publish(ctx, post, t, c, log)
	if aborts(err) {
		return nil, err
	}
	a := &models.PublishAttempt{
		PostID:        post.ID,
		Platform:      t.Platform,
		AccountID:     t.AccountID,
		AttemptNumber: number,
		AttemptedAt:   s.clock.Now(),
	}

	switch {
	case err == nil:
		a.Outcome = models.OutcomeSuccess
		a.RemoteID = remoteID
		log.Info("published", slog.String("remote_id", remoteID))
	case publisher.KindOf(err) == publisher.KindTransient:
		a.Outcome = models.OutcomeTransientFailure
		a.Error = err.Error()
		log.Warn("publish failed, retryable", slog.String("error", a.Error))
	default:
		a.Outcome = models.OutcomePermanentFailure
		a.Error = err.Error()
		log.Warn("publish failed", slog.String("error", a.Error))
	}
	s.metrics.ObserveAttempt(t.Platform, a.Outcome, a.AttemptedAt.Sub(start))
	return a, nil
}

// aborts reports errors that say nothing about the target: the store failed
// or the claim moved to another dispatcher.
func aborts(err error) bool {
	return errors.Is(err, models.ErrStore) || errors.Is(err, models.ErrClaimConflict)
}

// publish validates, resolves the credential and publishes. A credential the
// platform rejects gets one forced refresh and one more try. The claim is
// renewed before every call.
func (s *Scheduler) publish(ctx context.Context, post *models.Post, t *models.PostTarget, c publisher.Content, log *slog.Logger) (string, error) {
	pub, ok := s.publishers.Get(t.Platform)
	if !ok {
		return "", publisher.Permanent(t.Platform, errors.New("no publisher for platform"))
	}
	if err := pub.Validate(c).Err(); err != nil {
		return "", err
	}

	if err := s.heartbeat(ctx, post); err != nil {
		return "", err
	}
	cred, err := s.credential(ctx, t, false)
	if err != nil {
		return "", err
	}
	if err := s.heartbeat(ctx, post); err != nil {
		return "", err
	}
	remoteID, err := s.send(ctx, pub, cred, c)
	if publisher.KindOf(err) != publisher.KindAuth {
		return remoteID, err
	}

	log.Info("credential rejected, forcing refresh", slog.String("error", err.Error()))
	if err := s.heartbeat(ctx, post); err != nil {
		return "", err
	}
	cred, rerr := s.credential(ctx, t, true)
	if rerr != nil {
		if errors.Is(rerr, models.ErrAuth) {
			return "", publisher.Permanent(t.Platform, fmt.Errorf("%w (refresh: %v)", err, rerr))
		}
		return "", rerr
	}
	if err := s.heartbeat(ctx, post); err != nil {
		return "", err
	}
	remoteID, err = s.send(ctx, pub, cred, c)
	if publisher.KindOf(err) == publisher.KindAuth {
		return "", publisher.Permanent(t.Platform, err)
	}
	return remoteID, err
}

// heartbeat renews the claim on post. Between two renewals a dispatch makes
// at most four bounded calls.
func (s *Scheduler) heartbeat(ctx context.Context, post *models.Post) error {
	err := s.call(ctx, func(ctx context.Context) error {
		return s.posts.Heartbeat(ctx, post.ID, s.id, s.clock.Now())
	})
	if err != nil && !errors.Is(err, models.ErrClaimConflict) {
		return fmt.Errorf("renew claim on post %d: %w", post.ID, err)
	}
	return err
}

func (s *Scheduler) credential(ctx context.Context, t *models.PostTarget, force bool) (cred *models.Credential, err error) {
	err = s.call(ctx, func(ctx context.Context) error {
		if force {
			cred, err = s.creds.ForceRefresh(ctx, t.Platform, t.AccountID)
		} else {
			cred, err = s.creds.GetValid(ctx, t.Platform, t.AccountID)
		}
		return err
	})
	return cred, err
}

func (s *Scheduler) send(ctx context.Context, pub publisher.Publisher, cred *models.Credential, c publisher.Content) (remoteID string, err error) {
	err = s.call(ctx, func(ctx context.Context) error {
		remoteID, err = pub.Publish(ctx, cred, c)
		return err
	})
	return remoteID, err
}

// call bounds fn by the per-call timeout.
func (s *Scheduler) call(ctx context.Context, fn func(context.Context) error) error {
	if s.cfg.CallTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return fn(ctx)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTick(time.Duration, error)                              {}
func (nopMetrics) ObserveAttempt(string, models.AttemptOutcome, time.Duration) {}
func (nopMetrics) ObservePost(models.PostStatus)                               {}
func (nopMetrics) ObserveRecovered(int64)                                      {}
