// Package datastore is a file-backed JSON document store. Documents live in
// named collections and are kept in memory; the whole file is rewritten
// atomically on a timer and on Close.
package datastore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"
)

var (
	ErrClosed      = errors.New("datastore is closed")
	ErrMemoryLimit = errors.New("datastore memory limit exceeded")
	ErrInvalidJSON = errors.New("document is not valid JSON")
)

// Config holds configuration options for the DataStore
type Config struct {
	FilePath         string
	AutoSaveInterval time.Duration
	MaxMemorySize    int64 // bytes, 0 = unlimited
	BackupCount      int
	Logger           *slog.Logger
}

// DefaultConfig returns a default configuration
func DefaultConfig(filePath string) *Config {
	return &Config{
		FilePath:         filePath,
		AutoSaveInterval: 10 * time.Second,
		MaxMemorySize:    100 * 1024 * 1024,
		BackupCount:      3,
		Logger:           slog.Default().With(slog.String("component", "datastore")),
	}
}

type collection map[string]json.RawMessage

type DataStore struct {
	data         map[string]collection
	file         string
	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	config       *Config
	memorySize   int64
	lastChecksum string
	closed       bool
	closeMu      sync.RWMutex
	saveMu       sync.Mutex
}

// NewWithConfig creates a new DataStore with custom configuration
func NewWithConfig(config *Config) (*DataStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.FilePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	dir := filepath.Dir(config.FilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	store := &DataStore{
		data:   make(map[string]collection),
		file:   config.FilePath,
		ctx:    ctx,
		cancel: cancel,
		config: config,
	}

	if _, err := os.Stat(config.FilePath); os.IsNotExist(err) {
		if err := store.writeFileAtomic([]byte("{}")); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create empty JSON file: %w", err)
		}
	} else if err == nil {
		if err := store.loadFromFile(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to load data from file: %w", err)
		}
	} else {
		cancel()
		return nil, fmt.Errorf("failed to check file existence: %w", err)
	}

	if config.AutoSaveInterval > 0 {
		store.wg.Add(1)
		go store.autoSave()
	}

	return store, nil
}

func (ds *DataStore) isClosed() bool {
	ds.closeMu.RLock()
	defer ds.closeMu.RUnlock()
	return ds.closed
}

// Put stores a JSON document under collection/key, replacing any previous one.
func (ds *DataStore) Put(coll, key string, doc []byte) error {
	if ds.isClosed() {
		return ErrClosed
	}
	if !json.Valid(doc) {
		return ErrInvalidJSON
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	c := ds.data[coll]
	if c == nil {
		c = make(collection)
		ds.data[coll] = c
	}

	oldSize := int64(len(c[key]))
	newSize := int64(len(doc))
	if ds.config.MaxMemorySize > 0 {
		next := ds.memorySize - oldSize + newSize
		if next > ds.config.MaxMemorySize {
			return ErrMemoryLimit
		}
	}
	ds.memorySize += newSize - oldSize
	c[key] = slices.Clone(doc)
	return nil
}

// Get returns a copy of the document stored under collection/key.
func (ds *DataStore) Get(coll, key string) ([]byte, bool, error) {
	if ds.isClosed() {
		return nil, false, ErrClosed
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()
	doc, ok := ds.data[coll][key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(doc), true, nil
}

// Delete removes collection/key. Deleting a missing key is not an error.
func (ds *DataStore) Delete(coll, key string) error {
	if ds.isClosed() {
		return ErrClosed
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	c := ds.data[coll]
	if doc, ok := c[key]; ok {
		ds.memorySize -= int64(len(doc))
		delete(c, key)
	}
	return nil
}

// Keys lists the keys of a collection in sorted order.
func (ds *DataStore) Keys(coll string) ([]string, error) {
	if ds.isClosed() {
		return nil, ErrClosed
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()
	keys := make([]string, 0, len(ds.data[coll]))
	for k := range ds.data[coll] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close stops autosave and writes the final state.
func (ds *DataStore) Close() error {
	ds.closeMu.Lock()
	if ds.closed {
		ds.closeMu.Unlock()
		return nil
	}
	ds.closed = true
	ds.closeMu.Unlock()

	ds.cancel()
	ds.wg.Wait()

	return ds.saveToFile()
}

func (ds *DataStore) saveToFile() error {
	ds.saveMu.Lock()
	defer ds.saveMu.Unlock()

	ds.mu.RLock()
	data, err := json.MarshalIndent(ds.data, "", "  ")
	ds.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	checksum := calculateChecksum(data)
	if checksum == ds.lastChecksum {
		return nil
	}

	if ds.config.BackupCount > 0 {
		if err := ds.createBackup(); err != nil {
			ds.config.Logger.Warn("failed to create backup", slog.Any("err", err))
		}
	}

	if err := ds.writeFileAtomic(data); err != nil {
		return err
	}
	if err := ds.verifyFile(data); err != nil {
		return fmt.Errorf("file verification failed: %w", err)
	}

	ds.lastChecksum = checksum
	return nil
}

func (ds *DataStore) loadFromFile() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	raw, err := os.ReadFile(ds.file)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}

	var temp map[string]collection
	if err := json.Unmarshal(raw, &temp); err != nil {
		return fmt.Errorf("invalid JSON format: %w", err)
	}
	if temp == nil {
		temp = make(map[string]collection)
	}

	ds.data = temp
	ds.memorySize = 0
	for _, c := range temp {
		for _, doc := range c {
			ds.memorySize += int64(len(doc))
		}
	}
	ds.lastChecksum = calculateChecksum(raw)
	return nil
}

// writeFileAtomic writes to a temp file, syncs it and renames it into place.
func (ds *DataStore) writeFileAtomic(data []byte) error {
	tmpFile := ds.file + ".tmp"

	f, err := os.OpenFile(tmpFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpFile, ds.file); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (ds *DataStore) verifyFile(expected []byte) error {
	actual, err := os.ReadFile(ds.file)
	if err != nil {
		return fmt.Errorf("failed to read file for verification: %w", err)
	}
	if calculateChecksum(actual) != calculateChecksum(expected) {
		return fmt.Errorf("file checksum mismatch")
	}
	return nil
}

func (ds *DataStore) createBackup() error {
	if _, err := os.Stat(ds.file); os.IsNotExist(err) {
		return nil
	}

	timestamp := time.Now().Format("20060102_150405.000")
	backupFile := fmt.Sprintf("%s.backup.%s", ds.file, timestamp)

	src, err := os.Open(ds.file)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(backupFile)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}

	ds.cleanupOldBackups()
	return nil
}

// cleanupOldBackups keeps the newest BackupCount backup files.
func (ds *DataStore) cleanupOldBackups() {
	matches, err := filepath.Glob(ds.file + ".backup.*")
	if err != nil || len(matches) <= ds.config.BackupCount {
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}

	var files []fileInfo
	for _, match := range matches {
		if info, err := os.Stat(match); err == nil {
			files = append(files, fileInfo{match, info.ModTime()})
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	for i := 0; i < len(files)-ds.config.BackupCount; i++ {
		os.Remove(files[i].path)
	}
}

func (ds *DataStore) autoSave() {
	defer ds.wg.Done()

	ticker := time.NewTicker(ds.config.AutoSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ds.ctx.Done():
			return
		case <-ticker.C:
			if err := ds.saveToFile(); err != nil {
				ds.config.Logger.Error("auto-save failed", slog.Any("err", err))
			}
		}
	}
}

func calculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Stats returns statistics about the DataStore
func (ds *DataStore) Stats() map[string]any {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	counts := make(map[string]int, len(ds.data))
	for name, c := range ds.data {
		counts[name] = len(c)
	}
	return map[string]any{
		"collections": counts,
		"memory_size": ds.memorySize,
		"file_path":   ds.file,
		"last_save":   ds.lastChecksum != "",
	}
}
