package security

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"caremesh/modelguard/pkg/bus"
)

// Grant is one persisted user-to-model access grant.
type Grant struct {
	UserID  string
	ModelID string
}

// GrantStore is the persistent grant table the in-memory set is rebuilt
// from.
type GrantStore interface {
	ListGrants(ctx context.Context) ([]Grant, error)
	AddGrant(ctx context.Context, userID, modelID string) error
	RemoveGrant(ctx context.Context, userID, modelID string) error
}

// AuditWriter records audit events. Writes are best-effort: the
// implementation logs failures and never returns them.
type AuditWriter interface {
	RecordAudit(ctx context.Context, action, resource, actor string, details map[string]any)
}

// AccessDeniedError is the forbidden-class error raised when a user has
// no grant for a model. It is deliberately distinct from the provider
// error taxonomy.
type AccessDeniedError struct {
	UserID  string
	ModelID string
}

// Error implements the error interface.
func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("user %q has no access to model %q", e.UserID, e.ModelID)
}

// AccessControl keeps the in-memory mapping from user id to the set of
// permitted model ids.
//
// Lookups never fall back to the store: the set is rebuilt from the
// grant table at startup and after invalidation broadcasts, so grants
// survive restarts, but a miss after load means "no access".
type AccessControl struct {
	store GrantStore
	audit AuditWriter
	bus   *bus.Redis

	mu     sync.RWMutex
	grants map[string]map[string]struct{}

	logger *slog.Logger
}

// NewAccessControl creates the access controller. invalidationBus may be
// nil in single-instance deployments.
func NewAccessControl(store GrantStore, audit AuditWriter, invalidationBus *bus.Redis) *AccessControl {
	return &AccessControl{
		store:  store,
		audit:  audit,
		bus:    invalidationBus,
		grants: make(map[string]map[string]struct{}),
		logger: slog.Default().With("component", "security.access"),
	}
}

// LoadFromStore rebuilds the in-memory set from the persistent grant
// table. The new set is built aside and swapped in one step so readers
// never observe a partially loaded set.
func (a *AccessControl) LoadFromStore(ctx context.Context) error {
	rows, err := a.store.ListGrants(ctx)
	if err != nil {
		return fmt.Errorf("load access grants: %w", err)
	}

	grants := make(map[string]map[string]struct{}, len(rows))
	for _, g := range rows {
		set, ok := grants[g.UserID]
		if !ok {
			set = make(map[string]struct{})
			grants[g.UserID] = set
		}
		set[g.ModelID] = struct{}{}
	}

	a.mu.Lock()
	a.grants = grants
	a.mu.Unlock()

	a.logger.Info("access grants loaded", "users", len(grants), "grants", len(rows))
	return nil
}

// GrantUserAccess adds a grant, persists it, and writes an audit event.
func (a *AccessControl) GrantUserAccess(ctx context.Context, userID, modelID, actor string) error {
	if err := a.store.AddGrant(ctx, userID, modelID); err != nil {
		return fmt.Errorf("persist grant: %w", err)
	}

	a.mu.Lock()
	set, ok := a.grants[userID]
	if !ok {
		set = make(map[string]struct{})
		a.grants[userID] = set
	}
	set[modelID] = struct{}{}
	a.mu.Unlock()

	a.audit.RecordAudit(ctx, "GRANT_MODEL_ACCESS", modelID, actor, map[string]any{
		"user_id":  userID,
		"model_id": modelID,
	})
	a.bus.Publish(ctx, bus.TopicAccess)

	a.logger.Info("model access granted", "user_id", userID, "model_id", modelID, "actor", actor)
	return nil
}

// RevokeUserAccess removes a grant, persists the removal, and writes an
// audit event.
func (a *AccessControl) RevokeUserAccess(ctx context.Context, userID, modelID, actor string) error {
	if err := a.store.RemoveGrant(ctx, userID, modelID); err != nil {
		return fmt.Errorf("remove grant: %w", err)
	}

	a.mu.Lock()
	if set, ok := a.grants[userID]; ok {
		delete(set, modelID)
		if len(set) == 0 {
			delete(a.grants, userID)
		}
	}
	a.mu.Unlock()

	a.audit.RecordAudit(ctx, "REVOKE_MODEL_ACCESS", modelID, actor, map[string]any{
		"user_id":  userID,
		"model_id": modelID,
	})
	a.bus.Publish(ctx, bus.TopicAccess)

	a.logger.Info("model access revoked", "user_id", userID, "model_id", modelID, "actor", actor)
	return nil
}

// CheckUserAccess is a pure in-memory lookup.
func (a *AccessControl) CheckUserAccess(userID, modelID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	set, ok := a.grants[userID]
	if !ok {
		return false
	}
	_, ok = set[modelID]
	return ok
}

// EnforceAccess raises an AccessDeniedError and writes an audit event
// when the user has no grant for the model.
func (a *AccessControl) EnforceAccess(ctx context.Context, userID, modelID string) error {
	if a.CheckUserAccess(userID, modelID) {
		return nil
	}

	a.audit.RecordAudit(ctx, "UNAUTHORIZED_ACCESS_ATTEMPT", modelID, userID, map[string]any{
		"user_id":  userID,
		"model_id": modelID,
	})

	a.logger.Warn("access denied", "user_id", userID, "model_id", modelID)
	return &AccessDeniedError{UserID: userID, ModelID: modelID}
}
