package storage

import (
	"context"
	"errors"

	"github.com/keshon/playerstate/datastore"
	"github.com/keshon/playerstate/pkg/retrylimit"
)

// Backend is a schemaless document store with named collections. Every
// call replaces or reads a whole document; there is no field-level update.
type Backend interface {
	Get(ctx context.Context, coll, key string) ([]byte, bool, error)
	Put(ctx context.Context, coll, key string, doc []byte) error
	Delete(ctx context.Context, coll, key string) error
	Keys(ctx context.Context, coll string) ([]string, error)
	Close() error
}

// FileBackend keeps documents in a datastore JSON file.
type FileBackend struct {
	ds *datastore.DataStore
}

// NewFileBackend opens (or creates) the JSON file at cfg.FilePath.
func NewFileBackend(cfg *datastore.Config) (*FileBackend, error) {
	ds, err := datastore.NewWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &FileBackend{ds: ds}, nil
}

func (b *FileBackend) Get(_ context.Context, coll, key string) ([]byte, bool, error) {
	doc, ok, err := b.ds.Get(coll, key)
	return doc, ok, permanent(err)
}

func (b *FileBackend) Put(_ context.Context, coll, key string, doc []byte) error {
	return permanent(b.ds.Put(coll, key, doc))
}

func (b *FileBackend) Delete(_ context.Context, coll, key string) error {
	return permanent(b.ds.Delete(coll, key))
}

func (b *FileBackend) Keys(_ context.Context, coll string) ([]string, error) {
	keys, err := b.ds.Keys(coll)
	return keys, permanent(err)
}

// Stats describes the datastore file.
func (b *FileBackend) Stats() map[string]any {
	return b.ds.Stats()
}

func (b *FileBackend) Close() error {
	return b.ds.Close()
}

// permanent marks datastore errors that retrying cannot fix.
func permanent(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, datastore.ErrClosed),
		errors.Is(err, datastore.ErrInvalidJSON),
		errors.Is(err, datastore.ErrMemoryLimit):
		return retrylimit.MarkPermanent(err)
	default:
		return err
	}
}
