// Package datastore is a small JSON document store: one file, one object, values kept
// as raw JSON in memory and flushed to disk atomically.
package datastore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("datastore is closed")

type Config struct {
	FilePath string
	// AutoSaveInterval of zero disables the background flush.
	AutoSaveInterval time.Duration
	// BackupCount is the number of timestamped copies kept next to the file.
	BackupCount int
	Logger      zerolog.Logger
}

func DefaultConfig(filePath string) Config {
	return Config{
		FilePath:         filePath,
		AutoSaveInterval: 10 * time.Second,
		BackupCount:      3,
		Logger:           zerolog.Nop(),
	}
}

type DataStore struct {
	mu     sync.RWMutex
	data   map[string]json.RawMessage
	cfg    Config
	closed bool

	// saveMu serialises writers of the file and lastChecksum.
	saveMu       sync.Mutex
	lastChecksum string

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(filePath string) (*DataStore, error) {
	return Open(DefaultConfig(filePath))
}

// Open loads cfg.FilePath, creating an empty document if it does not exist.
func Open(cfg Config) (*DataStore, error) {
	if cfg.FilePath == "" {
		return nil, errors.New("file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	ds := &DataStore{
		data: make(map[string]json.RawMessage),
		cfg:  cfg,
		stop: make(chan struct{}),
	}

	switch _, err := os.Stat(cfg.FilePath); {
	case errors.Is(err, os.ErrNotExist):
		if err := ds.writeFileAtomic([]byte("{}")); err != nil {
			return nil, fmt.Errorf("create empty document: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat %s: %w", cfg.FilePath, err)
	default:
		if err := ds.load(); err != nil {
			return nil, err
		}
	}

	if cfg.AutoSaveInterval > 0 {
		ds.wg.Add(1)
		go ds.autoSave()
	}
	return ds, nil
}

// Get decodes the value stored under key into v. It reports false when the key is absent.
func (ds *DataStore) Get(key string, v any) (bool, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	if ds.closed {
		return false, ErrClosed
	}
	raw, ok := ds.data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (ds *DataStore) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.closed {
		return ErrClosed
	}
	ds.data[key] = raw
	return nil
}

func (ds *DataStore) Delete(key string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.closed {
		return ErrClosed
	}
	delete(ds.data, key)
	return nil
}

// Keys returns the stored keys in lexical order.
func (ds *DataStore) Keys() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	keys := make([]string, 0, len(ds.data))
	for k := range ds.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Flush writes pending changes to disk now.
func (ds *DataStore) Flush() error {
	ds.mu.RLock()
	closed := ds.closed
	ds.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return ds.save()
}

// Close stops the background flush and writes a final copy.
func (ds *DataStore) Close() error {
	ds.mu.Lock()
	if ds.closed {
		ds.mu.Unlock()
		return nil
	}
	ds.closed = true
	ds.mu.Unlock()

	close(ds.stop)
	ds.wg.Wait()
	return ds.save()
}

func (ds *DataStore) save() error {
	ds.saveMu.Lock()
	defer ds.saveMu.Unlock()

	ds.mu.RLock()
	data, err := json.MarshalIndent(ds.data, "", "  ")
	ds.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	sum := checksum(data)
	if sum == ds.lastChecksum {
		return nil
	}

	if ds.cfg.BackupCount > 0 {
		if err := ds.backup(); err != nil {
			ds.cfg.Logger.Warn().Err(err).Msg("Failed to create backup")
		}
	}
	if err := ds.writeFileAtomic(data); err != nil {
		return err
	}

	written, err := os.ReadFile(ds.cfg.FilePath)
	if err != nil {
		return fmt.Errorf("verify write: %w", err)
	}
	if !bytes.Equal(written, data) {
		return errors.New("verify write: checksum mismatch")
	}

	ds.lastChecksum = sum
	ds.cfg.Logger.Debug().Str("file", ds.cfg.FilePath).Int("bytes", len(data)).Msg("Document saved")
	return nil
}

func (ds *DataStore) load() error {
	data, err := os.ReadFile(ds.cfg.FilePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", ds.cfg.FilePath, err)
	}
	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON in %s: %w", ds.cfg.FilePath, err)
	}
	ds.data = doc
	ds.lastChecksum = checksum(data)
	return nil
}

func (ds *DataStore) writeFileAtomic(data []byte) error {
	tmp := ds.cfg.FilePath + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, ds.cfg.FilePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (ds *DataStore) backup() error {
	src, err := os.Open(ds.cfg.FilePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	name := fmt.Sprintf("%s.backup.%s", ds.cfg.FilePath, time.Now().Format("20060102_150405.000"))
	dst, err := os.Create(name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	ds.pruneBackups()
	return nil
}

// pruneBackups keeps the newest BackupCount copies. Names sort by timestamp.
func (ds *DataStore) pruneBackups() {
	matches, err := filepath.Glob(ds.cfg.FilePath + ".backup.*")
	if err != nil || len(matches) <= ds.cfg.BackupCount {
		return
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-ds.cfg.BackupCount] {
		if err := os.Remove(old); err != nil {
			ds.cfg.Logger.Warn().Err(err).Str("file", old).Msg("Failed to remove old backup")
		}
	}
}

func (ds *DataStore) autoSave() {
	defer ds.wg.Done()

	ticker := time.NewTicker(ds.cfg.AutoSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ds.stop:
			return
		case <-ticker.C:
			if err := ds.save(); err != nil {
				ds.cfg.Logger.Error().Err(err).Msg("Auto-save failed")
			}
		}
	}
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
