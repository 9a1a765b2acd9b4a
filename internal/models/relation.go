package models

import "time"

// Relation maps a moderation control message back to what was submitted and by whom.
type Relation struct {
	ControlMessageID int
	Payload          Payload
	SubmitterID      int64
	CreatedAt        time.Time
}

// Dispatch is everything recorded after one submission reached the moderation group.
// ControlMessageID is zero when the control message could not be sent.
type Dispatch struct {
	ControlMessageID int
	Payload          Payload
	SubmitterID      int64
	ForwardedIDs     []int
}

// Decision is the terminal moderation outcome of a submission.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
)

// Ban is a current entry of the ban set.
type Ban struct {
	UserID   int64     `json:"user_id"`
	BannedBy int64     `json:"banned_by"`
	BannedAt time.Time `json:"banned_at"`
}

// Stats are the aggregate counts reported by /stats and the admin API.
type Stats struct {
	Users       int `db:"users" json:"users"`
	Banned      int `db:"banned" json:"banned"`
	Forwarded   int `db:"forwarded" json:"forwarded_messages"`
	Submissions int `db:"submissions" json:"submissions"`
	Approved    int `db:"approved" json:"approved"`
	Denied      int `db:"denied" json:"denied"`
}
