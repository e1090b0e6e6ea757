package sync

import (
	"strconv"
	"time"

	"github.com/matheus3301/lined/internal/store"
	"go.uber.org/zap"
)

// Checkpoint keys in the index's sync_state table.
const (
	CheckpointRevision          = "revision"
	CheckpointLastPollAt        = "last_poll_at"
	CheckpointOperationsApplied = "operations_applied"
)

// Reconciler records sync progress in the index so a later history refresh
// can tell how far the loop got.
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

// Record stores the cursor and counters after a batch.
func (r *Reconciler) Record(revision, applied int64) error {
	values := map[string]string{
		CheckpointRevision:          strconv.FormatInt(revision, 10),
		CheckpointLastPollAt:        strconv.FormatInt(time.Now().UnixMilli(), 10),
		CheckpointOperationsApplied: strconv.FormatInt(applied, 10),
	}
	for k, v := range values {
		if err := r.db.SetState(k, v); err != nil {
			return err
		}
	}
	r.logger.Debug("sync checkpoint recorded", zap.Int64("revision", revision))
	return nil
}

// Revision returns the last recorded cursor, or 0 when none was recorded.
func (r *Reconciler) Revision() (int64, error) {
	v, ok, err := r.db.GetState(CheckpointRevision)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}
