package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// MediaStore keeps uploaded post media. R2Service is the production store.
type MediaStore interface {
	publisher.MediaSource
	Upload(ctx context.Context, key string, file []byte, contentType string) error
}

var allowedMedia = map[string]struct{}{
	"jpg": {}, "png": {}, "gif": {}, "webp": {}, "mp4": {}, "mov": {}, "webm": {},
}

var scheduledTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04"}

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (*models.Post, error)
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	PostInfo(ctx context.Context, postID, userID int64) (*transfer.PostDetail, error)
	Schedule(ctx context.Context, userID, postID int64) error
	Remove(ctx context.Context, userID, postID int64) error
}

type postService struct {
	db       *sql.DB
	pr       repository.PostRepository
	pt       repository.PostTargetRepository
	ac       repository.PlatformAccountRepository
	pa       repository.PublishAttemptRepository
	media    MediaStore
	registry *publisher.Registry
}

func NewPostService(
	db *sql.DB,
	pr repository.PostRepository,
	pt repository.PostTargetRepository,
	ac repository.PlatformAccountRepository,
	pa repository.PublishAttemptRepository,
	media MediaStore,
	registry *publisher.Registry) PostService {
	return &postService{
		db:       db,
		pr:       pr,
		pt:       pt,
		ac:       ac,
		pa:       pa,
		media:    media,
		registry: registry,
	}
}

type upload struct {
	key   string
	mime  string
	bytes []byte
}

func invalid(format string, args ...any) error {
	err := fmt.Errorf("%w: %s", models.ErrValidation, fmt.Sprintf(format, args...))
	slog.Info(err.Error())
	return err
}

func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (*models.Post, error) {
	if pc == nil {
		return nil, invalid("post creation data is nil")
	}

	scheduledTime, err := parseScheduledTime(pc.ScheduledTime)
	if err != nil {
		return nil, err
	}

	status := models.PostStatus(strings.TrimSpace(pc.Status))
	switch status {
	case "":
		status = models.PostStatusScheduled
	case models.PostStatusDraft, models.PostStatusScheduled:
	default:
		return nil, invalid("status must be draft or scheduled, got %q", pc.Status)
	}

	targets, err := s.resolveTargets(ctx, userID, pc.Targets)
	if err != nil {
		return nil, err
	}

	uploads, err := readUploads(files)
	if err != nil {
		return nil, err
	}

	post := &models.Post{
		UserID:        userID,
		Content:       pc.Content,
		Title:         pc.Title,
		ScheduledTime: scheduledTime.UTC(),
		Status:        status,
		Targets:       targets,
	}
	for _, u := range uploads {
		post.MediaRefs = append(post.MediaRefs, u.key)
	}
	if strings.TrimSpace(post.Content) == "" && len(post.MediaRefs) == 0 {
		return nil, invalid("a post needs text or media")
	}

	// Every target has to accept the content now; nothing is stored otherwise.
	content := publisher.NewContent(post, s.media)
	var problems []string
	for _, t := range targets {
		p, ok := s.registry.Get(t.Platform)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: platform is not supported", t.Platform))
			continue
		}
		if res := p.Validate(content); !res.OK() {
			problems = append(problems, fmt.Sprintf("%s: %s", t.Platform, strings.Join(res.Problems, "; ")))
		}
	}
	if len(problems) > 0 {
		return nil, invalid("%s", strings.Join(problems, " | "))
	}

	for _, u := range uploads {
		if err := s.media.Upload(ctx, u.key, u.bytes, u.mime); err != nil {
			return nil, fmt.Errorf("error uploading %s: %w", u.key, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post.ID, err = s.pr.Create(ctx, tx, post)
	if err != nil {
		return nil, fmt.Errorf("error creating post: %w", err)
	}

	for _, t := range targets {
		t.PostID = post.ID
		if err = s.pt.Create(ctx, tx, t); err != nil {
			return nil, fmt.Errorf("error saving target %s/%d: %w", t.Platform, t.AccountID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("post created", "post_id", post.ID, "status", post.Status,
		"targets", len(targets), "scheduled_time", post.ScheduledTime)
	return post, nil
}

func parseScheduledTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, invalid("scheduled time is required")
	}
	for _, layout := range scheduledTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalid("invalid scheduled time format %q", v)
}

// resolveTargets turns the submitted JSON array of account ids into targets,
// keeping the submitted order.
func (s *postService) resolveTargets(ctx context.Context, userID int64, raw string) ([]*models.PostTarget, error) {
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, invalid("invalid targets format: %v", err)
	}
	if len(ids) == 0 {
		return nil, invalid("no accounts selected")
	}

	seen := make(map[int64]struct{}, len(ids))
	targets := make([]*models.PostTarget, 0, len(ids))
	for i, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, invalid("account %d selected twice", id)
		}
		seen[id] = struct{}{}

		exists, err := s.ac.CheckByUserID(ctx, id, userID)
		if err != nil {
			return nil, fmt.Errorf("error checking account %d: %w", id, err)
		}
		if !exists {
			return nil, invalid("account %d does not exist", id)
		}

		acc, err := s.ac.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("error loading account %d: %w", id, err)
		}
		if acc.Status == models.AccountStatusInvalid {
			return nil, invalid("account %d needs to be reconnected: %s", id, acc.InvalidReason)
		}

		targets = append(targets, &models.PostTarget{
			Platform:     acc.Platform,
			AccountID:    acc.ID,
			DisplayOrder: i,
		})
	}
	return targets, nil
}

func readUploads(files []*multipart.FileHeader) ([]upload, error) {
	uploads := make([]upload, 0, len(files))
	for _, file := range files {
		u, err := readUpload(file)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, nil
}

func readUpload(file *multipart.FileHeader) (upload, error) {
	f, err := file.Open()
	if err != nil {
		return upload{}, fmt.Errorf("error opening file: %w", err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return upload{}, fmt.Errorf("error reading file content: %w", err)
	}

	kind, err := filetype.Match(b)
	if err != nil || kind == types.Unknown {
		return upload{}, invalid("%s: unsupported file type", file.Filename)
	}
	ext := kind.Extension
	if ext == "jpeg" {
		ext = "jpg"
	}
	if _, ok := allowedMedia[ext]; !ok {
		return upload{}, invalid("%s: file type %s is not allowed", file.Filename, ext)
	}

	id, err := gonanoid.New()
	if err != nil {
		return upload{}, err
	}
	return upload{key: id + "." + ext, mime: kind.MIME.Value, bytes: b}, nil
}

// owned loads a post, hiding posts of other users behind ErrNotFound.
func (s *postService) owned(ctx context.Context, postID, userID int64) (*models.Post, error) {
	if userID == 0 {
		return nil, invalid("user is not valid")
	}
	if postID == 0 {
		return nil, invalid("post id is not valid")
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.UserID != userID {
		slog.Info("post belongs to another user", "post_id", postID, "user_id", userID)
		return nil, models.ErrNotFound
	}
	return post, nil
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*transfer.PostDetail, error) {
	post, err := s.owned(ctx, postID, userID)
	if err != nil {
		return nil, err
	}

	attempts, err := s.pa.ListByPostID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error listing attempts: %w", err)
	}
	return &transfer.PostDetail{Post: post, Attempts: attempts}, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	posts, err := s.pr.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing posts: %w", err)
	}
	return posts, nil
}

// Schedule releases a draft to the dispatcher.
func (s *postService) Schedule(ctx context.Context, userID, postID int64) error {
	post, err := s.owned(ctx, postID, userID)
	if err != nil {
		return err
	}
	if post.Status != models.PostStatusDraft {
		return fmt.Errorf("post %d is %s: %w", postID, post.Status, models.ErrInvalidTransition)
	}
	return s.pr.SetStatus(ctx, postID, models.PostStatusDraft, models.PostStatusScheduled)
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	if _, err := s.owned(ctx, postID, userID); err != nil {
		return err
	}

	err := s.pr.Remove(ctx, postID)
	if errors.Is(err, models.ErrInvalidTransition) {
		return fmt.Errorf("post %d is already being published: %w", postID, err)
	}
	return err
}
