package configstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no record or backup exists for a key.
var ErrNotFound = errors.New("configstore: record not found")

// Record is the persisted configuration of one provider.
type Record struct {
	ProviderType string         `json:"provider_type"`
	Code         string         `json:"code"`
	Config       map[string]any `json:"config"`
	Enabled      bool           `json:"enabled"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Backup is a point-in-time snapshot of a provider configuration, taken
// before every configuration change.
type Backup struct {
	ID           string         `json:"id"`
	ProviderType string         `json:"provider_type"`
	Code         string         `json:"code"`
	Config       map[string]any `json:"config"`
	Enabled      bool           `json:"enabled"`
	Reason       string         `json:"reason"`
	CreatedAt    time.Time      `json:"created_at"`
}

// NewBackup snapshots a record under a fresh backup ID.
func NewBackup(rec Record, reason string) Backup {
	return Backup{
		ID:           uuid.NewString(),
		ProviderType: rec.ProviderType,
		Code:         rec.Code,
		Config:       copyConfig(rec.Config),
		Enabled:      rec.Enabled,
		Reason:       reason,
		CreatedAt:    time.Now().UTC(),
	}
}

// Key builds the storage key for a provider type and code.
func Key(providerType, code string) string {
	return providerType + "_" + code
}

// Store persists provider configurations and backups.
type Store interface {
	// Save upserts a record, stamping UpdatedAt.
	Save(ctx context.Context, rec Record) error
	// Load returns the record for the given type and code, or ErrNotFound.
	Load(ctx context.Context, providerType, code string) (Record, error)
	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, providerType, code string) error
	// List returns all records for a provider type, all types when empty.
	List(ctx context.Context, providerType string) ([]Record, error)
	// SaveBackup persists a configuration snapshot.
	SaveBackup(ctx context.Context, b Backup) error
	// ListBackups returns backups for a provider, newest first.
	ListBackups(ctx context.Context, providerType, code string) ([]Backup, error)
	// LoadBackup returns a backup by ID, or ErrNotFound.
	LoadBackup(ctx context.Context, providerType, code, id string) (Backup, error)
}

func copyConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out
}
