package sync

import (
	"fmt"
	"sync"

	"github.com/matheus3301/bbsync/internal/store"
	"go.uber.org/zap"
)

// Reconciler resolves each optimistic send to exactly one cache row keyed
// by the server guid. Two independent paths race to deliver the server's
// copy — the REST confirmation and the socket echo — so both route through
// here, serialized on a mutex, with the pending_sends table as the
// correlation record.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
	mu     sync.Mutex
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, logger: logger}
}

// Track registers an optimistic send before its provisional row is written.
func (r *Reconciler) Track(tempGUID, chatGUID string) error {
	return r.db.CreatePendingSend(tempGUID, chatGUID)
}

// Confirm applies the REST confirmation: the provisional row is rewritten
// to the server guid. Safe to call after the socket echo already won.
func (r *Reconciler) Confirm(tempGUID string, server *store.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.PromoteMessage(tempGUID, server); err != nil {
		return fmt.Errorf("promote message: %w", err)
	}
	if err := r.db.ConfirmPendingSend(tempGUID, server.GUID); err != nil {
		return fmt.Errorf("confirm pending send: %w", err)
	}
	r.logger.Debug("send confirmed",
		zap.String("temp_guid", tempGUID),
		zap.String("guid", server.GUID))
	return nil
}

// ReconcileInbound consumes a socket echo carrying a temp guid. Returns
// true when the event matched a tracked send and was reconciled; false
// means the event is an ordinary new message for the caller to commit.
func (r *Reconciler) ReconcileInbound(tempGUID string, server *store.Message) (bool, error) {
	if tempGUID == "" {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, err := r.db.GetPendingSend(tempGUID)
	if err != nil {
		return false, fmt.Errorf("lookup pending send: %w", err)
	}
	if pending == nil {
		return false, nil
	}
	if err := r.db.PromoteMessage(tempGUID, server); err != nil {
		return false, fmt.Errorf("promote message: %w", err)
	}
	if err := r.db.ConfirmPendingSend(tempGUID, server.GUID); err != nil {
		return false, fmt.Errorf("confirm pending send: %w", err)
	}
	r.logger.Debug("send reconciled via event stream",
		zap.String("temp_guid", tempGUID),
		zap.String("guid", server.GUID))
	return true, nil
}

// Fail marks the provisional row and the pending record as failed. The
// row keeps its text so the caller can retry.
func (r *Reconciler) Fail(tempGUID, reason string, code int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.SetMessageError(tempGUID, code); err != nil {
		return fmt.Errorf("set message error: %w", err)
	}
	return r.db.FailPendingSend(tempGUID, reason)
}
