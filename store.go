// Package esobs stores observation records in a document store. Every
// record type gets its own index mapped from the record structure, and
// large result sets are read back through server side scrolls.
package esobs

import (
	"context"
	"sync"

	"github.com/denismitr/esobs/internal/docstore"
	"github.com/denismitr/esobs/internal/logger"
	"github.com/denismitr/esobs/internal/lru"
	"github.com/denismitr/esobs/internal/scroll"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var ErrStoreNotOpen = errors.New("store is not open")
var ErrUnsupported = errors.New("operation is not supported by this store")

type Store struct {
	backend docstore.Backend
	cfg     Config
	log     zerolog.Logger
	metrics *storeMetrics

	mu      sync.RWMutex
	open    bool
	indices map[string]string // record store name to index
	cache   *lru.Cache[*RecordStore]
}

func New(backend docstore.Backend, cfg Config) (*Store, error) {
	cfg.applyDefaults()

	s := &Store{
		backend: backend,
		cfg:     cfg,
		indices: make(map[string]string),
	}

	if cfg.Logger != nil {
		s.log = cfg.Logger.With().Str("component", "store").Logger()
	} else {
		s.log = logger.Component("store")
	}

	cache, err := lru.New(cfg.DescriptorCacheShards, cfg.DescriptorCacheSize, func(name string, _ *RecordStore) {
		s.log.Trace().Str("recordStore", name).Msg("descriptor evicted")
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create descriptor cache")
	}
	s.cache = cache

	if s.metrics, err = newStoreMetrics(cfg.Registerer); err != nil {
		return nil, err
	}

	return s, nil
}

// Open prepares the metadata index and rebuilds the descriptor cache from
// it. Opening an open store reloads the cache.
func (s *Store) Open(ctx context.Context) error {
	if err := s.backend.EnsureIndex(ctx, s.cfg.MetadataIndex, metadataMapping()); err != nil {
		return errors.Wrap(err, "could not prepare metadata index")
	}

	loaded, err := s.loadRecordStores(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Purge()
	s.indices = make(map[string]string, len(loaded))
	for _, rs := range loaded {
		s.indices[rs.Name] = rs.Index
		s.cache.Add(rs.Name, rs)
	}
	s.open = true

	s.log.Debug().Int("recordStores", len(loaded)).Msg("store opened")
	return nil
}

func (s *Store) loadRecordStores(ctx context.Context) ([]*RecordStore, error) {
	q := docstore.Query{Terms: []docstore.Term{{Field: metaKindField, Values: []string{kindRecordStore}, Exact: true}}}
	c := scroll.New(ctx, s.metadataScroll(q, false), scroll.WithPolicy(scroll.Propagate), scroll.WithLogger(s.log))
	defer c.Close()

	var out []*RecordStore
	for c.HasNext() {
		hit, err := c.Next()
		if err != nil {
			return nil, errors.Wrap(err, "could not load record stores")
		}

		rs, err := decodeRecordStore(hit.Source)
		if err != nil {
			return nil, errors.Wrapf(err, "metadata document %s", hit.ID)
		}
		out = append(out, rs)
	}

	if err := c.Err(); err != nil {
		return nil, errors.Wrap(err, "could not load record stores")
	}

	return out, nil
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}

	s.open = false
	s.cache.Purge()

	if err := s.backend.Close(ctx); err != nil {
		return errors.Wrap(err, "could not close backend")
	}

	return nil
}

// Commit makes every write issued so far durable and visible to readers.
func (s *Store) Commit(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.backend.Flush(ctx); err != nil {
		return errors.Wrap(err, "commit failed")
	}

	return nil
}

func (s *Store) Rollback(ctx context.Context) error {
	return errors.Wrap(ErrUnsupported, "rollback")
}

func (s *Store) Backup(ctx context.Context) error {
	return errors.Wrap(ErrUnsupported, "backup")
}

func (s *Store) Restore(ctx context.Context) error {
	return errors.Wrap(ErrUnsupported, "restore")
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.open {
		return ErrStoreNotOpen
	}
	return nil
}

func (s *Store) iteratorPolicy() scroll.Policy {
	if s.cfg.PropagateFaults {
		return scroll.Propagate
	}
	return scroll.FailClosed
}
