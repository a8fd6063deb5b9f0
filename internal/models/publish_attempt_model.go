package models

import "time"

type AttemptOutcome string

const (
	OutcomeSuccess          AttemptOutcome = "success"
	OutcomeTransientFailure AttemptOutcome = "transient_failure"
	OutcomePermanentFailure AttemptOutcome = "permanent_failure"
)

type PublishAttempt struct {
	ID            int64          `db:"id" json:"id"`
	PostID        int64          `db:"post_id" json:"post_id"`
	Platform      string         `db:"platform" json:"platform"`
	AccountID     int64          `db:"account_id" json:"account_id"`
	Outcome       AttemptOutcome `db:"outcome" json:"outcome"`
	RemoteID      string         `db:"remote_id" json:"remote_id,omitempty"`
	Error         string         `db:"error" json:"error,omitempty"`
	AttemptNumber int            `db:"attempt_number" json:"attempt_number"`
	AttemptedAt   time.Time      `db:"attempted_at" json:"attempted_at"`
}

func (a *PublishAttempt) Key() TargetKey {
	return TargetKey{Platform: a.Platform, AccountID: a.AccountID}
}
