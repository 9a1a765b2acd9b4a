package repository

import (
	"context"

	"relaybot/internal/models"
)

// SubmissionRepository stores what was sent to the moderation group and who sent it.
type SubmissionRepository interface {
	RecordSubmission(ctx context.Context, controlID int, payload models.Payload, submitterID int64) error
	RecordForward(ctx context.Context, forwardID int, submitterID int64) error
	// RecordDispatch writes the relation (when a control message exists) and
	// every forward entry of one submission as a unit.
	RecordDispatch(ctx context.Context, d models.Dispatch) error
	// LookupRelation returns nil, nil when no relation exists for controlID.
	LookupRelation(ctx context.Context, controlID int) (*models.Relation, error)
	LookupSubmitter(ctx context.Context, forwardID int) (int64, bool, error)
}

// BanRepository manages the ban set. Ban and Unban are idempotent.
type BanRepository interface {
	Ban(ctx context.Context, userID, moderatorID int64) error
	Unban(ctx context.Context, userID, moderatorID int64) error
	IsBanned(ctx context.Context, userID int64) (bool, error)
	ListBanned(ctx context.Context) ([]models.Ban, error)
}

// UserRepository tracks users that went through the /start greeting.
type UserRepository interface {
	RegisterUser(ctx context.Context, userID int64) error
	IsRegistered(ctx context.Context, userID int64) (bool, error)
}

// DecisionRepository records the first moderation decision per control message.
type DecisionRepository interface {
	// ClaimDecision reports whether this call recorded the decision. It is
	// false when a decision already exists for controlID.
	ClaimDecision(ctx context.Context, controlID int, decision models.Decision, moderatorID int64) (bool, error)
	ReleaseDecision(ctx context.Context, controlID int) error
}

type StatsRepository interface {
	Stats(ctx context.Context) (models.Stats, error)
}

// Store is the persistence gateway used by the relay.
type Store interface {
	SubmissionRepository
	BanRepository
	UserRepository
	DecisionRepository
	StatsRepository
}
