package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/goliatone/go-formstate/pkg/form"
)

// BadgerStore persists drafts in an embedded BadgerDB, giving local-first
// applications durable drafts without an external service.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger-backed store at path. An empty path
// opens an in-memory database.
func OpenBadger(path string) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("draft: open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an already opened database, e.g. one shared with the
// rest of the application.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Close releases the underlying database. Only call this for stores opened
// through OpenBadger.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Load(_ context.Context, formID, contextKey string) (form.Values, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(formID, contextKey))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("draft: load: %w", err)
	}
	var values form.Values
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("draft: decode: %w", err)
	}
	return values, nil
}

func (s *BadgerStore) Save(_ context.Context, formID, contextKey string, values form.Values) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("draft: encode: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(formID, contextKey), raw)
	})
	if err != nil {
		return fmt.Errorf("draft: save: %w", err)
	}
	return nil
}

func (s *BadgerStore) Delete(_ context.Context, formID, contextKey string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(formID, contextKey))
	})
	if err != nil {
		return fmt.Errorf("draft: delete: %w", err)
	}
	return nil
}

func badgerKey(formID, contextKey string) []byte {
	return []byte("draft/" + formID + "/" + contextKey)
}
