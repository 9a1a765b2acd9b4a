package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"relaybot/internal/crypto"
	"relaybot/internal/models"
)

type sqlStore struct {
	db     *sqlx.DB
	sealer *crypto.Sealer
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a Store backed by db. Payloads are sealed with sealer when it is not nil.
func NewStore(db *sqlx.DB, sealer *crypto.Sealer, logger *zap.Logger) Store {
	return &sqlStore{
		db:     db,
		sealer: sealer,
		logger: logger,
		now:    time.Now,
	}
}

const (
	insertRelationQuery = `
		INSERT INTO submission_relations (control_message_id, payload, submitter_id, created_at)
		VALUES (?, ?, ?, ?)
	`
	insertForwardQuery = `
		INSERT INTO forwarded_messages (message_id, submitter_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (message_id) DO NOTHING
	`
	insertBanEventQuery = `
		INSERT INTO ban_events (user_id, action, moderator_id, created_at)
		VALUES (?, ?, ?, ?)
	`
)

func (s *sqlStore) RecordSubmission(ctx context.Context, controlID int, payload models.Payload, submitterID int64) error {
	stored, err := s.encode(payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(insertRelationQuery), controlID, stored, submitterID, s.now().Unix())
	if err != nil {
		s.logger.Error("Failed to record submission relation", zap.Int("control_message_id", controlID), zap.Error(err))
		return wrap("record submission", err)
	}
	return nil
}

func (s *sqlStore) RecordForward(ctx context.Context, forwardID int, submitterID int64) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(insertForwardQuery), forwardID, submitterID, s.now().Unix())
	if err != nil {
		s.logger.Error("Failed to record forwarded message", zap.Int("message_id", forwardID), zap.Error(err))
		return wrap("record forward", err)
	}
	return nil
}

func (s *sqlStore) RecordDispatch(ctx context.Context, d models.Dispatch) error {
	var stored string
	if d.ControlMessageID != 0 {
		var err error
		if stored, err = s.encode(d.Payload); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrap("record dispatch", err)
	}
	defer func() {
		_ = tx.Rollback() // no-op after Commit
	}()

	now := s.now().Unix()
	if d.ControlMessageID != 0 {
		if _, err := tx.ExecContext(ctx, tx.Rebind(insertRelationQuery), d.ControlMessageID, stored, d.SubmitterID, now); err != nil {
			return wrap("record dispatch", err)
		}
	}
	for _, id := range d.ForwardedIDs {
		if _, err := tx.ExecContext(ctx, tx.Rebind(insertForwardQuery), id, d.SubmitterID, now); err != nil {
			return wrap("record dispatch", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrap("record dispatch", err)
	}
	return nil
}

type relationRow struct {
	ControlMessageID int64  `db:"control_message_id"`
	Payload          string `db:"payload"`
	SubmitterID      int64  `db:"submitter_id"`
	CreatedAt        int64  `db:"created_at"`
}

func (s *sqlStore) LookupRelation(ctx context.Context, controlID int) (*models.Relation, error) {
	var row relationRow
	query := `
		SELECT control_message_id, payload, submitter_id, created_at
		FROM submission_relations
		WHERE control_message_id = ?
	`

	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), controlID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		s.logger.Error("Failed to get submission relation", zap.Int("control_message_id", controlID), zap.Error(err))
		return nil, wrap("lookup relation", err)
	}

	payload, err := s.decode(row.Payload)
	if err != nil {
		return nil, err
	}

	return &models.Relation{
		ControlMessageID: int(row.ControlMessageID),
		Payload:          payload,
		SubmitterID:      row.SubmitterID,
		CreatedAt:        time.Unix(row.CreatedAt, 0).UTC(),
	}, nil
}

func (s *sqlStore) LookupSubmitter(ctx context.Context, forwardID int) (int64, bool, error) {
	var submitterID int64
	query := `SELECT submitter_id FROM forwarded_messages WHERE message_id = ?`

	err := s.db.GetContext(ctx, &submitterID, s.db.Rebind(query), forwardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		s.logger.Error("Failed to get forwarded message", zap.Int("message_id", forwardID), zap.Error(err))
		return 0, false, wrap("lookup submitter", err)
	}
	return submitterID, true, nil
}

func (s *sqlStore) Ban(ctx context.Context, userID, moderatorID int64) error {
	query := `
		INSERT INTO banned_users (user_id, banned_by, banned_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`
	return s.banTx(ctx, "ban", query, userID, moderatorID, userID, moderatorID, s.now().Unix())
}

func (s *sqlStore) Unban(ctx context.Context, userID, moderatorID int64) error {
	query := `DELETE FROM banned_users WHERE user_id = ?`
	return s.banTx(ctx, "unban", query, userID, moderatorID, userID)
}

// banTx mutates the ban set and appends the matching audit row.
func (s *sqlStore) banTx(ctx context.Context, action, query string, userID, moderatorID int64, args ...interface{}) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrap(action, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		s.logger.Error("Failed to update ban set", zap.String("action", action), zap.Int64("user_id", userID), zap.Error(err))
		return wrap(action, err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(insertBanEventQuery), userID, action, moderatorID, s.now().Unix()); err != nil {
		return wrap(action, err)
	}
	if err := tx.Commit(); err != nil {
		return wrap(action, err)
	}
	return nil
}

func (s *sqlStore) IsBanned(ctx context.Context, userID int64) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM banned_users WHERE user_id = ?`
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(query), userID); err != nil {
		return false, wrap("is banned", err)
	}
	return count > 0, nil
}

type banRow struct {
	UserID   int64 `db:"user_id"`
	BannedBy int64 `db:"banned_by"`
	BannedAt int64 `db:"banned_at"`
}

func (s *sqlStore) ListBanned(ctx context.Context) ([]models.Ban, error) {
	var rows []banRow
	query := `SELECT user_id, banned_by, banned_at FROM banned_users ORDER BY banned_at DESC, user_id`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, wrap("list banned", err)
	}

	bans := make([]models.Ban, 0, len(rows))
	for _, r := range rows {
		bans = append(bans, models.Ban{
			UserID:   r.UserID,
			BannedBy: r.BannedBy,
			BannedAt: time.Unix(r.BannedAt, 0).UTC(),
		})
	}
	return bans, nil
}

func (s *sqlStore) RegisterUser(ctx context.Context, userID int64) error {
	query := `
		INSERT INTO registered_users (user_id, registered_at)
		VALUES (?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), userID, s.now().Unix()); err != nil {
		s.logger.Error("Failed to register user", zap.Int64("user_id", userID), zap.Error(err))
		return wrap("register user", err)
	}
	return nil
}

func (s *sqlStore) IsRegistered(ctx context.Context, userID int64) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM registered_users WHERE user_id = ?`
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(query), userID); err != nil {
		return false, wrap("is registered", err)
	}
	return count > 0, nil
}

func (s *sqlStore) ClaimDecision(ctx context.Context, controlID int, decision models.Decision, moderatorID int64) (bool, error) {
	query := `
		INSERT INTO moderation_decisions (control_message_id, decision, moderator_id, decided_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (control_message_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), controlID, string(decision), moderatorID, s.now().Unix())
	if err != nil {
		return false, wrap("claim decision", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, wrap("claim decision", err)
	}
	return rowsAffected == 1, nil
}

func (s *sqlStore) ReleaseDecision(ctx context.Context, controlID int) error {
	query := `DELETE FROM moderation_decisions WHERE control_message_id = ?`
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), controlID); err != nil {
		return wrap("release decision", err)
	}
	return nil
}

func (s *sqlStore) Stats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	query := `
		SELECT
			(SELECT COUNT(*) FROM registered_users) AS users,
			(SELECT COUNT(*) FROM banned_users) AS banned,
			(SELECT COUNT(*) FROM forwarded_messages) AS forwarded,
			(SELECT COUNT(*) FROM submission_relations) AS submissions,
			(SELECT COUNT(*) FROM moderation_decisions WHERE decision = 'approved') AS approved,
			(SELECT COUNT(*) FROM moderation_decisions WHERE decision = 'denied') AS denied
	`
	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		return models.Stats{}, wrap("stats", err)
	}
	return stats, nil
}

func (s *sqlStore) encode(payload models.Payload) (string, error) {
	data, err := models.MarshalPayload(payload)
	if err != nil {
		return "", err
	}
	stored, err := s.sealer.Seal(data)
	if err != nil {
		return "", fmt.Errorf("failed to seal payload: %w", err)
	}
	return stored, nil
}

func (s *sqlStore) decode(stored string) (models.Payload, error) {
	data, err := s.sealer.Open(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload: %w", err)
	}
	return models.UnmarshalPayload(data)
}
