package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"mime/multipart"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 32)...)

// EBML header with a "webm" doctype.
var webmBytes = append([]byte{0x1A, 0x45, 0xDF, 0xA3, 0x42, 0x82, 0x84, 'w', 'e', 'b', 'm'}, make([]byte, 32)...)

type fakePostRepo struct {
	mu        sync.Mutex
	posts     map[int64]*models.Post
	nextID    int64
	createErr error
	attempted map[int64]bool
}

func newFakePostRepo(posts ...*models.Post) *fakePostRepo {
	r := &fakePostRepo{posts: map[int64]*models.Post{}, nextID: 100, attempted: map[int64]bool{}}
	for _, p := range posts {
		r.posts[p.ID] = p
	}
	return r
}

func (r *fakePostRepo) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return 0, r.createErr
	}
	r.nextID++
	cp := *post
	cp.ID = r.nextID
	r.posts[cp.ID] = &cp
	return cp.ID, nil
}

func (r *fakePostRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakePostRepo) ListByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Post
	for _, p := range r.posts {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakePostRepo) SetStatus(ctx context.Context, id int64, from, to models.PostStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok || p.Status != from {
		return models.ErrInvalidTransition
	}
	p.Status = to
	return nil
}

func (r *fakePostRepo) Remove(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok || r.attempted[id] || (p.Status != models.PostStatusDraft && p.Status != models.PostStatusScheduled) {
		return models.ErrInvalidTransition
	}
	delete(r.posts, id)
	return nil
}

func (r *fakePostRepo) FetchDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	return nil, nil
}

func (r *fakePostRepo) Claim(ctx context.Context, id int64, expected models.PostStatus, owner string, now time.Time) error {
	return nil
}

func (r *fakePostRepo) MarkPublishing(ctx context.Context, id int64, owner string, now time.Time) error {
	return nil
}

func (r *fakePostRepo) Heartbeat(ctx context.Context, id int64, owner string, now time.Time) error {
	return nil
}

func (r *fakePostRepo) UpdateStatus(ctx context.Context, id int64, u models.StatusUpdate) error {
	return nil
}

func (r *fakePostRepo) RecoverStale(ctx context.Context, staleBefore, now time.Time) (int64, error) {
	return 0, nil
}

type fakeTargetRepo struct {
	targets   []*models.PostTarget
	createErr error
}

func (r *fakeTargetRepo) Create(ctx context.Context, tx *sql.Tx, t *models.PostTarget) error {
	if r.createErr != nil {
		return r.createErr
	}
	cp := *t
	r.targets = append(r.targets, &cp)
	return nil
}

func (r *fakeTargetRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error) {
	var out []*models.PostTarget
	for _, t := range r.targets {
		if t.PostID == postID {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeAttemptRepo struct {
	attempts []*models.PublishAttempt
}

func (r *fakeAttemptRepo) Create(ctx context.Context, a *models.PublishAttempt) (int64, error) {
	r.attempts = append(r.attempts, a)
	return int64(len(r.attempts)), nil
}

func (r *fakeAttemptRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PublishAttempt, error) {
	var out []*models.PublishAttempt
	for _, a := range r.attempts {
		if a.PostID == postID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeMediaStore struct {
	uploads map[string]string
	err     error
}

func (m *fakeMediaStore) Upload(ctx context.Context, key string, file []byte, contentType string) error {
	if m.err != nil {
		return m.err
	}
	if m.uploads == nil {
		m.uploads = map[string]string{}
	}
	m.uploads[key] = contentType
	return nil
}

func (m *fakeMediaStore) PublicURL(key string) string {
	return "https://media.example.com/" + key
}

func (m *fakeMediaStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, errors.New("not stored")
}

type namedFile struct {
	name string
	body []byte
}

func formFiles(t *testing.T, files ...namedFile) []*multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := w.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = part.Write(f.body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["files"]
}

type postServiceFixture struct {
	svc      PostService
	mock     sqlmock.Sqlmock
	posts    *fakePostRepo
	targets  *fakeTargetRepo
	accounts *fakeAccountRepo
	attempts *fakeAttemptRepo
	media    *fakeMediaStore
}

func newPostServiceFixture(t *testing.T) *postServiceFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &postServiceFixture{
		mock:    mock,
		posts:   newFakePostRepo(),
		targets: &fakeTargetRepo{},
		accounts: newFakeAccountRepo(
			&models.PlatformAccount{ID: 1, UserID: 7, Platform: models.PlatformX, Status: models.AccountStatusActive},
			&models.PlatformAccount{ID: 2, UserID: 7, Platform: models.PlatformFacebook, Status: models.AccountStatusActive},
			&models.PlatformAccount{ID: 3, UserID: 7, Platform: models.PlatformYoutube, Status: models.AccountStatusActive},
			&models.PlatformAccount{ID: 4, UserID: 8, Platform: models.PlatformX, Status: models.AccountStatusActive},
			&models.PlatformAccount{ID: 5, UserID: 7, Platform: models.PlatformX, Status: models.AccountStatusInvalid, InvalidReason: "revoked"},
		),
		attempts: &fakeAttemptRepo{},
		media:    &fakeMediaStore{},
	}
	registry := publisher.NewRegistry(publisher.NewX(), publisher.NewFacebook(), publisher.NewYoutube())
	f.svc = NewPostService(db, f.posts, f.targets, f.accounts, f.attempts, f.media, registry)
	return f
}

func TestCreatePost(t *testing.T) {
	f := newPostServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	post, err := f.svc.CreatePost(context.Background(), 7, &transfer.PostCreation{
		Content:       "launch day",
		ScheduledTime: "2026-05-01T09:30",
		Targets:       "[2, 1]",
	}, formFiles(t, namedFile{"cover.png", pngBytes}))
	require.NoError(t, err)

	assert.Equal(t, int64(101), post.ID)
	assert.Equal(t, models.PostStatusScheduled, post.Status)
	assert.Equal(t, time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC), post.ScheduledTime)
	require.Len(t, post.MediaRefs, 1)
	assert.True(t, strings.HasSuffix(post.MediaRefs[0], ".png"))
	assert.Equal(t, "image/png", f.media.uploads[post.MediaRefs[0]])

	require.Len(t, f.targets.targets, 2)
	assert.Equal(t, models.PostTarget{PostID: 101, Platform: models.PlatformFacebook, AccountID: 2, DisplayOrder: 0}, *f.targets.targets[0])
	assert.Equal(t, models.PostTarget{PostID: 101, Platform: models.PlatformX, AccountID: 1, DisplayOrder: 1}, *f.targets.targets[1])
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreatePost_Draft(t *testing.T) {
	f := newPostServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	post, err := f.svc.CreatePost(context.Background(), 7, &transfer.PostCreation{
		Content:       "later",
		ScheduledTime: "2026-05-01T09:30:00+02:00",
		Status:        "draft",
		Targets:       "[1]",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusDraft, post.Status)
	assert.Equal(t, time.Date(2026, 5, 1, 7, 30, 0, 0, time.UTC), post.ScheduledTime)
	assert.Empty(t, post.MediaRefs)
}

func TestCreatePost_WebmVideo(t *testing.T) {
	f := newPostServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	post, err := f.svc.CreatePost(context.Background(), 7, &transfer.PostCreation{
		Title:         "Clip",
		ScheduledTime: "2026-05-01T09:30",
		Targets:       "[3]",
	}, formFiles(t, namedFile{"clip.webm", webmBytes}))
	require.NoError(t, err)

	require.Len(t, post.MediaRefs, 1)
	assert.True(t, strings.HasSuffix(post.MediaRefs[0], ".webm"))
	assert.Equal(t, "video/webm", f.media.uploads[post.MediaRefs[0]])
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreatePost_Rejected(t *testing.T) {
	tests := []struct {
		name  string
		pc    *transfer.PostCreation
		files []namedFile
		want  string
	}{
		{
			name: "nil data",
			want: "nil",
		},
		{
			name: "bad time",
			pc:   &transfer.PostCreation{Content: "hi", ScheduledTime: "tomorrow", Targets: "[1]"},
			want: "scheduled time",
		},
		{
			name: "bad status",
			pc:   &transfer.PostCreation{Content: "hi", ScheduledTime: "2026-05-01T09:30", Status: "published", Targets: "[1]"},
			want: "draft or scheduled",
		},
		{
			name: "no targets",
			pc:   &transfer.PostCreation{Content: "hi", ScheduledTime: "2026-05-01T09:30", Targets: "[]"},
			want: "no accounts",
		},
		{
			name: "malformed targets",
			pc:   &transfer.PostCreation{Content: "hi", ScheduledTime: "2026-05-01T09:30", Targets: "x,facebook"},
			want: "targets format",
		},
		{
			name: "duplicate target",
			pc:   &transfer.PostCreation{Content: "hi", ScheduledTime: "2026-05-01T09:30", Targets: "[1,1]"},
			want: "selected twice",
		},
		{
			name: "account of another user",
			pc:   &transfer.PostCreation{Content: "hi", ScheduledTime: "2026-05-01T09:30", Targets: "[4]"},
			want: "account 4 does not exist",
		},
		{
			name: "invalid account",
			pc:   &transfer.PostCreation{Content: "hi", ScheduledTime: "2026-05-01T09:30", Targets: "[5]"},
			want: "reconnected",
		},
		{
			name: "empty post",
			pc:   &transfer.PostCreation{ScheduledTime: "2026-05-01T09:30", Targets: "[1]"},
			want: "text or media",
		},
		{
			name:  "unsupported file",
			pc:    &transfer.PostCreation{Content: "hi", ScheduledTime: "2026-05-01T09:30", Targets: "[1]"},
			files: []namedFile{{"notes.txt", []byte("plain text notes")}},
			want:  "unsupported file type",
		},
		{
			name: "text too long for x",
			pc:   &transfer.PostCreation{Content: strings.Repeat("a", 281), ScheduledTime: "2026-05-01T09:30", Targets: "[1]"},
			want: "x:",
		},
		{
			name:  "youtube needs a video",
			pc:    &transfer.PostCreation{Content: "hi", ScheduledTime: "2026-05-01T09:30", Targets: "[1,3]"},
			files: []namedFile{{"cover.png", pngBytes}},
			want:  "youtube:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPostServiceFixture(t)
			_, err := f.svc.CreatePost(context.Background(), 7, tt.pc, formFiles(t, tt.files...))
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrValidation)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, f.posts.posts)
			assert.Empty(t, f.media.uploads)
			require.NoError(t, f.mock.ExpectationsWereMet())
		})
	}
}

func TestCreatePost_RollsBackOnTargetFailure(t *testing.T) {
	f := newPostServiceFixture(t)
	f.targets.createErr = models.ErrStore
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.CreatePost(context.Background(), 7, &transfer.PostCreation{
		Content:       "hi",
		ScheduledTime: "2026-05-01T09:30",
		Targets:       "[1]",
	}, nil)
	assert.ErrorIs(t, err, models.ErrStore)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreatePost_UploadFailure(t *testing.T) {
	f := newPostServiceFixture(t)
	f.media.err = errors.New("bucket unavailable")

	_, err := f.svc.CreatePost(context.Background(), 7, &transfer.PostCreation{
		Content:       "hi",
		ScheduledTime: "2026-05-01T09:30",
		Targets:       "[1]",
	}, formFiles(t, namedFile{"cover.png", pngBytes}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrValidation)
	assert.Empty(t, f.posts.posts)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestPostInfo(t *testing.T) {
	f := newPostServiceFixture(t)
	f.posts.posts[11] = &models.Post{ID: 11, UserID: 7, Status: models.PostStatusPublished}
	f.attempts.attempts = []*models.PublishAttempt{
		{PostID: 11, Platform: models.PlatformX, AccountID: 1, Outcome: models.OutcomeSuccess, RemoteID: "t-1", AttemptNumber: 1},
		{PostID: 12, Platform: models.PlatformX, AccountID: 1, Outcome: models.OutcomeSuccess, AttemptNumber: 1},
	}

	detail, err := f.svc.PostInfo(context.Background(), 11, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(11), detail.ID)
	require.Len(t, detail.Attempts, 1)
	assert.Equal(t, "t-1", detail.Attempts[0].RemoteID)

	_, err = f.svc.PostInfo(context.Background(), 11, 8)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.PostInfo(context.Background(), 99, 7)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.PostInfo(context.Background(), 0, 7)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestSchedule(t *testing.T) {
	f := newPostServiceFixture(t)
	f.posts.posts[11] = &models.Post{ID: 11, UserID: 7, Status: models.PostStatusDraft}
	f.posts.posts[12] = &models.Post{ID: 12, UserID: 7, Status: models.PostStatusPublished}

	require.NoError(t, f.svc.Schedule(context.Background(), 7, 11))
	assert.Equal(t, models.PostStatusScheduled, f.posts.posts[11].Status)

	assert.ErrorIs(t, f.svc.Schedule(context.Background(), 7, 11), models.ErrInvalidTransition)
	assert.ErrorIs(t, f.svc.Schedule(context.Background(), 7, 12), models.ErrInvalidTransition)
	assert.ErrorIs(t, f.svc.Schedule(context.Background(), 8, 11), models.ErrNotFound)
}

func TestRemove(t *testing.T) {
	f := newPostServiceFixture(t)
	f.posts.posts[11] = &models.Post{ID: 11, UserID: 7, Status: models.PostStatusScheduled}
	f.posts.posts[12] = &models.Post{ID: 12, UserID: 7, Status: models.PostStatusScheduled}
	f.posts.posts[13] = &models.Post{ID: 13, UserID: 7, Status: models.PostStatusPublishing}
	f.posts.attempted[12] = true

	assert.ErrorIs(t, f.svc.Remove(context.Background(), 8, 11), models.ErrNotFound)
	require.NoError(t, f.svc.Remove(context.Background(), 7, 11))
	assert.NotContains(t, f.posts.posts, int64(11))

	assert.ErrorIs(t, f.svc.Remove(context.Background(), 7, 12), models.ErrInvalidTransition)
	assert.ErrorIs(t, f.svc.Remove(context.Background(), 7, 13), models.ErrInvalidTransition)
}

func TestList(t *testing.T) {
	f := newPostServiceFixture(t)
	f.posts.posts[11] = &models.Post{ID: 11, UserID: 7}
	f.posts.posts[12] = &models.Post{ID: 12, UserID: 8}

	posts, err := f.svc.List(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, int64(11), posts[0].ID)
}
