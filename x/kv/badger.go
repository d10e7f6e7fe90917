package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog"
)

var _ Store = (*Badger)(nil)

const badgerConflictRetries = 16

// BadgerConfig configures the on-disk store.
type BadgerConfig struct {
	Dir        string `mapstructure:"dir"         yaml:"dir"`
	InMemory   bool   `mapstructure:"in_memory"   yaml:"in_memory"`
	SyncWrites bool   `mapstructure:"sync_writes" yaml:"sync_writes"`
}

// Badger stores keys in a badger database. Updates run in a badger
// read-write transaction and are retried on conflict.
type Badger struct {
	db  *badger.DB
	log zerolog.Logger
}

// OpenBadger opens (or creates) the database described by cfg.
func OpenBadger(cfg BadgerConfig, log zerolog.Logger) (*Badger, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("badger dir is required")
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return &Badger{
		db:  db,
		log: log.With().Str("component", "kv-badger").Logger(),
	}, nil
}

func (b *Badger) Get(_ context.Context, key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return out, nil
}

func (b *Badger) Update(ctx context.Context, key []byte, fn UpdateFunc) error {
	for attempt := 0; attempt < badgerConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := b.db.Update(func(txn *badger.Txn) error {
			var current []byte
			item, err := txn.Get(key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				if current, err = item.ValueCopy(nil); err != nil {
					return err
				}
			}

			next, err := fn(current)
			if err != nil {
				return err
			}
			if next == nil {
				if current == nil {
					return nil
				}
				return txn.Delete(key)
			}
			return txn.Set(key, next)
		})
		if errors.Is(err, badger.ErrConflict) {
			b.log.Debug().Int("attempt", attempt).Msg("transaction conflict, retrying")
			continue
		}
		return err
	}
	return fmt.Errorf("badger update: %w", badger.ErrConflict)
}

func (b *Badger) Iterate(_ context.Context, prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(bytes.Clone(item.Key()), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) Ping(context.Context) error {
	if b.db.IsClosed() {
		return fmt.Errorf("badger closed")
	}
	return nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}
