package sync

import (
	"strconv"
	"time"

	"github.com/Ae-Ti/BMN-sub000/internal/store"
	"go.uber.org/zap"
)

// Checkpoint keys kept in the session cache.
const (
	CheckpointIdentity     = "identity"
	CheckpointBootstrapped = "bootstrapped_at"
	CheckpointLastPush     = "last_push_at"
	CheckpointCatchUp      = "last_catch_up_at"
)

// Reconciler manages sync checkpoints. A nil database turns every call into
// a no-op.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, logger: logger}
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(key, value string) {
	if r.db == nil {
		return
	}
	if err := r.db.SetState(key, value); err != nil {
		r.logger.Warn("failed to update checkpoint", zap.String("key", key), zap.Error(err))
	}
}

// Stamp records t as a unix-millisecond checkpoint.
func (r *Reconciler) Stamp(key string, t time.Time) {
	r.UpdateCheckpoint(key, strconv.FormatInt(t.UnixMilli(), 10))
}

// GetCheckpoint retrieves a sync checkpoint value, or "" if unset.
func (r *Reconciler) GetCheckpoint(key string) string {
	if r.db == nil {
		return ""
	}
	v, err := r.db.State(key)
	if err != nil {
		r.logger.Warn("failed to read checkpoint", zap.String("key", key), zap.Error(err))
		return ""
	}
	return v
}

// StampTime parses a checkpoint written by Stamp. The zero time is returned
// when the checkpoint is unset or unreadable.
func (r *Reconciler) StampTime(key string) time.Time {
	ms, err := strconv.ParseInt(r.GetCheckpoint(key), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
