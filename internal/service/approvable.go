package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	appErrors "github.com/agrariahq/agraria-api/pkg/errors"
)

// ApprovableHandler is the contract a domain type fulfils to be routed
// through the approval engine. The engine never sees domain structs; it
// addresses records by (type tag, id) and calls back through this interface.
type ApprovableHandler interface {
	// Snapshot returns the field map conditional rules are evaluated against.
	Snapshot(ctx context.Context, id string) (map[string]interface{}, error)
	// OnApproved is invoked exactly once when an instance reaches approved.
	OnApproved(ctx context.Context, id string) error
	// OnRejected is invoked exactly once when an instance reaches rejected.
	OnRejected(ctx context.Context, id string) error
	// OnChangesRequested is invoked when an instance moves to changes_requested.
	OnChangesRequested(ctx context.Context, id string) error
}

// ApprovableRegistry maps approvable type tags to their handlers.
type ApprovableRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ApprovableHandler
}

func NewApprovableRegistry() *ApprovableRegistry {
	return &ApprovableRegistry{handlers: make(map[string]ApprovableHandler)}
}

// Register binds a handler to a type tag, replacing any previous binding.
func (r *ApprovableRegistry) Register(typeTag string, handler ApprovableHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typeTag] = handler
}

// Handler resolves the handler for a type tag. Unknown tags are a
// configuration error, not a user error.
func (r *ApprovableRegistry) Handler(typeTag string) (ApprovableHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typeTag]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrWorkflowConfig, fmt.Sprintf("no approvable handler registered for type %q", typeTag))
	}
	return h, nil
}

// activatable is what the concrete handlers need from their repositories.
type activatable interface {
	SetActive(ctx context.Context, id string, active bool) error
}

type snapshotSource interface {
	Snapshot(ctx context.Context, id string) (map[string]interface{}, error)
}

// snapshotFunc adapts a plain function to snapshotSource.
type snapshotFunc func(ctx context.Context, id string) (map[string]interface{}, error)

func (f snapshotFunc) Snapshot(ctx context.Context, id string) (map[string]interface{}, error) {
	return f(ctx, id)
}

// entityApprovable is the shared handler for domain records whose approval
// outcome toggles an is_active flag: approval activates the record, a
// rejection or change request leaves it dormant.
type entityApprovable struct {
	typeTag   string
	flags     activatable
	snapshots snapshotSource
	logger    *zap.Logger
}

func newEntityApprovable(typeTag string, flags activatable, snapshots snapshotSource, logger *zap.Logger) *entityApprovable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &entityApprovable{typeTag: typeTag, flags: flags, snapshots: snapshots, logger: logger}
}

func (h *entityApprovable) Snapshot(ctx context.Context, id string) (map[string]interface{}, error) {
	snap, err := h.snapshots.Snapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s %s: %w", h.typeTag, id, err)
	}
	return snap, nil
}

func (h *entityApprovable) OnApproved(ctx context.Context, id string) error {
	h.logger.Info("approvable approved", zap.String("type", h.typeTag), zap.String("id", id))
	return h.flags.SetActive(ctx, id, true)
}

func (h *entityApprovable) OnRejected(ctx context.Context, id string) error {
	h.logger.Info("approvable rejected", zap.String("type", h.typeTag), zap.String("id", id))
	return h.flags.SetActive(ctx, id, false)
}

func (h *entityApprovable) OnChangesRequested(ctx context.Context, id string) error {
	h.logger.Info("approvable sent back for changes", zap.String("type", h.typeTag), zap.String("id", id))
	return nil
}
