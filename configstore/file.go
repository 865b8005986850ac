package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mkaratas/relaykit/encryption"
)

// FileStore persists records as JSON files under a base directory:
//
//	<dir>/configs/{type}_{code}.json
//	<dir>/backups/{type}_{code}/{rfc3339}_{id}.json
//
// Writes go through a temp file and rename so a crash never leaves a
// half-written record behind.
type FileStore struct {
	mu        sync.Mutex
	dir       string
	encryptor encryption.Encryptor
	sensitive map[string]bool
}

// FileStoreOption customizes a FileStore.
type FileStoreOption func(*FileStore)

// WithEncryption encrypts the values of the named config keys at rest.
func WithEncryption(enc encryption.Encryptor, sensitiveKeys []string) FileStoreOption {
	return func(fs *FileStore) {
		fs.encryptor = enc
		fs.sensitive = make(map[string]bool, len(sensitiveKeys))
		for _, key := range sensitiveKeys {
			fs.sensitive[key] = true
		}
	}
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string, opts ...FileStoreOption) (*FileStore, error) {
	fs := &FileStore{dir: dir}
	for _, opt := range opts {
		opt(fs)
	}
	for _, sub := range []string{"configs", "backups"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("configstore: create %s dir: %w", sub, err)
		}
	}
	return fs, nil
}

func (s *FileStore) recordPath(providerType, code string) string {
	return filepath.Join(s.dir, "configs", Key(providerType, code)+".json")
}

func (s *FileStore) backupDir(providerType, code string) string {
	return filepath.Join(s.dir, "backups", Key(providerType, code))
}

func (s *FileStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.UpdatedAt = time.Now().UTC()
	sealed, err := s.seal(rec.Config)
	if err != nil {
		return err
	}
	rec.Config = sealed
	return writeJSON(s.recordPath(rec.ProviderType, rec.Code), rec)
}

func (s *FileStore) Load(_ context.Context, providerType, code string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec Record
	if err := readJSON(s.recordPath(providerType, code), &rec); err != nil {
		return Record{}, err
	}
	opened, err := s.open(rec.Config)
	if err != nil {
		return Record{}, err
	}
	rec.Config = opened
	return rec, nil
}

func (s *FileStore) Delete(_ context.Context, providerType, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.recordPath(providerType, code))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileStore) List(_ context.Context, providerType string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(filepath.Join(s.dir, "configs"))
	if err != nil {
		return nil, err
	}

	var out []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var rec Record
		if err := readJSON(filepath.Join(s.dir, "configs", entry.Name()), &rec); err != nil {
			continue // skip unreadable records
		}
		if providerType != "" && rec.ProviderType != providerType {
			continue
		}
		opened, err := s.open(rec.Config)
		if err != nil {
			continue
		}
		rec.Config = opened
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return Key(out[i].ProviderType, out[i].Code) < Key(out[j].ProviderType, out[j].Code)
	})
	return out, nil
}

func (s *FileStore) SaveBackup(_ context.Context, b Backup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := s.backupDir(b.ProviderType, b.Code)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	sealed, err := s.seal(b.Config)
	if err != nil {
		return err
	}
	b.Config = sealed
	name := fmt.Sprintf("%s_%s.json", b.CreatedAt.Format(time.RFC3339), b.ID)
	return writeJSON(filepath.Join(dir, name), b)
}

func (s *FileStore) ListBackups(_ context.Context, providerType, code string) ([]Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.backupDir(providerType, code))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Backup
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var b Backup
		if err := readJSON(filepath.Join(s.backupDir(providerType, code), entry.Name()), &b); err != nil {
			continue
		}
		opened, err := s.open(b.Config)
		if err != nil {
			continue
		}
		b.Config = opened
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) LoadBackup(ctx context.Context, providerType, code, id string) (Backup, error) {
	backups, err := s.ListBackups(ctx, providerType, code)
	if err != nil {
		return Backup{}, err
	}
	for _, b := range backups {
		if b.ID == id {
			return b, nil
		}
	}
	return Backup{}, ErrNotFound
}

// seal encrypts sensitive string values when an encryptor is configured.
func (s *FileStore) seal(cfg map[string]any) (map[string]any, error) {
	if s.encryptor == nil || cfg == nil {
		return copyConfig(cfg), nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		str, isString := v.(string)
		if !s.sensitive[k] || !isString || str == "" {
			out[k] = v
			continue
		}
		sealed, err := s.encryptor.Encrypt(str)
		if err != nil {
			return nil, fmt.Errorf("configstore: encrypt %q: %w", k, err)
		}
		out[k] = sealed
	}
	return out, nil
}

func (s *FileStore) open(cfg map[string]any) (map[string]any, error) {
	if s.encryptor == nil || cfg == nil {
		return copyConfig(cfg), nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		str, isString := v.(string)
		if !s.sensitive[k] || !isString || str == "" {
			out[k] = v
			continue
		}
		opened, err := s.encryptor.Decrypt(str)
		if err != nil {
			return nil, fmt.Errorf("configstore: decrypt %q: %w", k, err)
		}
		out[k] = opened
	}
	return out, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
