package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"relaybot/internal/crypto"
	"relaybot/internal/models"
)

func newSQLiteStore(t *testing.T, sealer *crypto.Sealer) Store {
	t.Helper()
	logger := zap.NewNop()

	db, err := NewDB(DriverSQLite, filepath.Join(t.TempDir(), "relay.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, MigrateDB(db, logger))
	return NewStore(db, sealer, logger)
}

func storeBackends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"mem":    func(t *testing.T) Store { return NewMemStore() },
		"sqlite": func(t *testing.T) Store { return newSQLiteStore(t, nil) },
		"sqlite-sealed": func(t *testing.T) Store {
			key, err := crypto.GenerateKey()
			require.NoError(t, err)
			sealer, err := crypto.NewSealer(key)
			require.NoError(t, err)
			return newSQLiteStore(t, sealer)
		},
		"cached": func(t *testing.T) Store {
			cs, err := NewCachedStore(NewMemStore(), 16)
			require.NoError(t, err)
			return cs
		},
	}
}

func TestBanIsIdempotent(t *testing.T) {
	for name, newStore := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()
			s := newStore(t)

			banned, err := s.IsBanned(ctx, 42)
			assert.NoError(err)
			assert.False(banned)

			assert.NoError(s.Ban(ctx, 42, 7))
			assert.NoError(s.Ban(ctx, 42, 7))
			banned, err = s.IsBanned(ctx, 42)
			assert.NoError(err)
			assert.True(banned)

			bans, err := s.ListBanned(ctx)
			assert.NoError(err)
			assert.Len(bans, 1)

			assert.NoError(s.Unban(ctx, 42, 7))
			assert.NoError(s.Unban(ctx, 42, 7))
			banned, err = s.IsBanned(ctx, 42)
			assert.NoError(err)
			assert.False(banned)

			// unbanning someone never banned is a no-op
			assert.NoError(s.Unban(ctx, 99, 7))
			banned, err = s.IsBanned(ctx, 99)
			assert.NoError(err)
			assert.False(banned)
		})
	}
}

func TestRelationIntegrity(t *testing.T) {
	for name, newStore := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			single := models.Photo{FileID: "photo-1", Caption: "look\n\n👤 <code>Ann</code>"}
			require.NoError(t, s.RecordSubmission(ctx, 100, single, 5))

			batch := models.Batch{Items: []models.GroupMedia{
				models.Photo{FileID: "a", Caption: "first"},
				models.Video{FileID: "b"},
				models.Audio{FileID: "c"},
			}}
			require.NoError(t, s.RecordDispatch(ctx, models.Dispatch{
				ControlMessageID: 204,
				Payload:          batch,
				SubmitterID:      6,
				ForwardedIDs:     []int{201, 202, 203},
			}))

			rel, err := s.LookupRelation(ctx, 100)
			require.NoError(t, err)
			require.NotNil(t, rel)
			assert.Equal(t, single, rel.Payload)
			assert.Equal(t, int64(5), rel.SubmitterID)

			rel, err = s.LookupRelation(ctx, 204)
			require.NoError(t, err)
			require.NotNil(t, rel)
			assert.Equal(t, batch, rel.Payload)
			assert.Equal(t, int64(6), rel.SubmitterID)

			for _, id := range []int{201, 202, 203} {
				submitter, ok, err := s.LookupSubmitter(ctx, id)
				assert.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, int64(6), submitter)
			}

			// the control message of a batch is not a forwarded item
			_, ok, err := s.LookupSubmitter(ctx, 204)
			assert.NoError(t, err)
			assert.False(t, ok)

			missing, err := s.LookupRelation(ctx, 999)
			assert.NoError(t, err)
			assert.Nil(t, missing)

			// control ids are unique
			assert.Error(t, s.RecordSubmission(ctx, 100, models.Text{Body: "again"}, 5))
		})
	}
}

func TestDispatchWithoutControl(t *testing.T) {
	for name, newStore := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			require.NoError(t, s.RecordDispatch(ctx, models.Dispatch{
				SubmitterID:  3,
				ForwardedIDs: []int{10, 11},
			}))

			stats, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, stats.Submissions)
			assert.Equal(t, 2, stats.Forwarded)
		})
	}
}

func TestClaimDecision(t *testing.T) {
	for name, newStore := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()
			s := newStore(t)

			ok, err := s.ClaimDecision(ctx, 1, models.DecisionApproved, 7)
			assert.NoError(err)
			assert.True(ok)

			ok, err = s.ClaimDecision(ctx, 1, models.DecisionApproved, 8)
			assert.NoError(err)
			assert.False(ok)

			ok, err = s.ClaimDecision(ctx, 1, models.DecisionDenied, 8)
			assert.NoError(err)
			assert.False(ok)

			assert.NoError(s.ReleaseDecision(ctx, 1))
			ok, err = s.ClaimDecision(ctx, 1, models.DecisionDenied, 8)
			assert.NoError(err)
			assert.True(ok)

			ok, err = s.ClaimDecision(ctx, 2, models.DecisionApproved, 8)
			assert.NoError(err)
			assert.True(ok)

			stats, err := s.Stats(ctx)
			assert.NoError(err)
			assert.Equal(1, stats.Approved)
			assert.Equal(1, stats.Denied)
		})
	}
}

func TestRegistration(t *testing.T) {
	for name, newStore := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()
			s := newStore(t)

			ok, err := s.IsRegistered(ctx, 5)
			assert.NoError(err)
			assert.False(ok)

			assert.NoError(s.RegisterUser(ctx, 5))
			assert.NoError(s.RegisterUser(ctx, 5))

			ok, err = s.IsRegistered(ctx, 5)
			assert.NoError(err)
			assert.True(ok)

			assert.NoError(s.Ban(ctx, 8, 1))
			assert.NoError(s.RecordForward(ctx, 300, 5))
			assert.NoError(s.RecordForward(ctx, 300, 5))

			stats, err := s.Stats(ctx)
			assert.NoError(err)
			assert.Equal(models.Stats{Users: 1, Banned: 1, Forwarded: 1}, stats)
		})
	}
}

func TestErrorIsTemporary(t *testing.T) {
	err := wrap("lookup relation", errors.New("connection refused"))

	var repoErr *Error
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.Temporary())
	assert.Equal(t, "lookup relation", repoErr.Op)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Nil(t, wrap("noop", nil))
}
