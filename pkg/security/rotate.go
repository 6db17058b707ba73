package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"caremesh/modelguard/pkg/bus"
)

// CredentialStore is the slice of the model configuration store the
// rotator needs: reading and replacing one encrypted credential.
type CredentialStore interface {
	// GetEncryptedKey returns the stored ciphertext for the model
	// configuration, or an error satisfying errors.Is(err,
	// ErrConfigNotFound) when the id is unknown.
	GetEncryptedKey(ctx context.Context, modelID string) (string, error)

	// UpdateEncryptedKey replaces the stored ciphertext.
	UpdateEncryptedKey(ctx context.Context, modelID, encrypted string) error
}

// ErrConfigNotFound is returned when a rotation targets an unknown model
// configuration.
var ErrConfigNotFound = errors.New("model configuration not found")

// Rotator re-encrypts provider credentials and records the rotation in
// the audit trail. Only one-way digests of the old and new keys are ever
// written; plaintext never leaves memory.
type Rotator struct {
	store  CredentialStore
	cipher *Cipher
	audit  AuditWriter
	bus    *bus.Redis
	logger *slog.Logger
}

// NewRotator creates a rotator. invalidationBus may be nil.
func NewRotator(store CredentialStore, cipher *Cipher, audit AuditWriter, invalidationBus *bus.Redis) *Rotator {
	return &Rotator{
		store:  store,
		cipher: cipher,
		audit:  audit,
		bus:    invalidationBus,
		logger: slog.Default().With("component", "security.rotator"),
	}
}

// RotateAPIKey replaces the credential of one model configuration.
//
// The old credential is decrypted only to compute its digest for the
// rotation record. The audit event carries the old and new digests,
// the actor, and the reason.
func (r *Rotator) RotateAPIKey(ctx context.Context, modelID, newKey, actor, reason string) error {
	if newKey == "" {
		return fmt.Errorf("rotate %q: new key is empty", modelID)
	}

	oldEncrypted, err := r.store.GetEncryptedKey(ctx, modelID)
	if err != nil {
		return fmt.Errorf("rotate %q: %w", modelID, err)
	}

	oldHash := ""
	if oldPlain, derr := r.cipher.Decrypt(oldEncrypted); derr == nil {
		oldHash = HashAPIKey(oldPlain)
	} else {
		// An undecryptable old credential does not block rotation;
		// the rotation record simply has no old digest.
		r.logger.Warn("old credential undecryptable during rotation", "model_id", modelID)
	}
	newHash := HashAPIKey(newKey)

	if oldHash != "" && oldHash == newHash {
		return fmt.Errorf("rotate %q: new key is identical to the current key", modelID)
	}

	newEncrypted, err := r.cipher.Encrypt(newKey)
	if err != nil {
		return fmt.Errorf("rotate %q: encrypt: %w", modelID, err)
	}

	if err := r.store.UpdateEncryptedKey(ctx, modelID, newEncrypted); err != nil {
		return fmt.Errorf("rotate %q: persist: %w", modelID, err)
	}

	r.audit.RecordAudit(ctx, "API_KEY_ROTATED", modelID, actor, map[string]any{
		"model_id":     modelID,
		"old_key_hash": oldHash,
		"new_key_hash": newHash,
		"reason":       reason,
	})
	r.bus.Publish(ctx, bus.TopicModelConfig)

	r.logger.Info("API key rotated", "model_id", modelID, "actor", actor, "reason", reason)
	return nil
}
