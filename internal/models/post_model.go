package models

import "time"

type PostStatus string

const (
	PostStatusDraft           PostStatus = "draft"
	PostStatusScheduled       PostStatus = "scheduled"
	PostStatusClaimed         PostStatus = "claimed"
	PostStatusPublishing      PostStatus = "publishing"
	PostStatusPublished       PostStatus = "published"
	PostStatusPartiallyFailed PostStatus = "partially_failed"
	PostStatusFailed          PostStatus = "failed"
)

// Terminal reports whether the dispatcher will never touch a post in this status again.
func (s PostStatus) Terminal() bool {
	switch s {
	case PostStatusPublished, PostStatusPartiallyFailed, PostStatusFailed:
		return true
	}
	return false
}

type Post struct {
	ID            int64         `db:"id" json:"id"`
	UserID        int64         `db:"user_id" json:"user_id"`
	Content       string        `db:"content" json:"content"`
	Title         string        `db:"title" json:"title"`
	MediaRefs     []string      `db:"media_refs" json:"media_refs"`
	Targets       []*PostTarget `json:"targets"`
	ScheduledTime time.Time     `db:"scheduled_time" json:"scheduled_time"`
	Status        PostStatus    `db:"status" json:"status"`
	RetryCount    int           `db:"retry_count" json:"retry_count"`
	NextAttemptAt *time.Time    `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	ClaimedBy     string        `db:"claimed_by" json:"-"`
	ClaimedAt     *time.Time    `db:"claimed_at" json:"-"`
	ResultSummary string        `db:"result_summary" json:"result_summary,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// PostTarget is one platform account a post is published to.
type PostTarget struct {
	PostID       int64  `db:"post_id" json:"post_id"`
	Platform     string `db:"platform" json:"platform"`
	AccountID    int64  `db:"account_id" json:"account_id"`
	DisplayOrder int    `db:"display_order" json:"display_order"`
}

// Key identifies the target within its post. Attempts carry the same key.
func (t *PostTarget) Key() TargetKey {
	return TargetKey{Platform: t.Platform, AccountID: t.AccountID}
}

type TargetKey struct {
	Platform  string
	AccountID int64
}

// StatusUpdate is written by the dispatcher that currently owns the claim.
type StatusUpdate struct {
	Owner         string
	Status        PostStatus
	RetryCount    int
	NextAttemptAt *time.Time
	ResultSummary string
}
