package esobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/denismitr/esobs/internal/docstore"
	"github.com/denismitr/esobs/schema"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
)

var ErrRecordStoreExists = errors.New("record store already exists")
var ErrUnknownRecordStore = errors.New("unknown record store")
var ErrInvalidRecordStore = errors.New("invalid record store")

const maxIndexNameLen = 200

// RecordStore describes one record type: the index its records live in,
// their structure and the encoding producers declared for them.
type RecordStore struct {
	Name      string
	Index     string
	Structure *schema.Component
	Encoding  schema.Encoding
}

func (rs *RecordStore) clone() (*RecordStore, error) {
	var cp RecordStore
	if err := copier.Copy(&cp, rs); err != nil {
		return nil, errors.Wrapf(err, "could not copy record store %s", rs.Name)
	}
	cp.Structure = rs.Structure.Clone()
	return &cp, nil
}

// recordMapping is the index mapping of a record store: the key fields
// next to the record value under data.
func recordMapping(structure *schema.Component) docstore.M {
	return docstore.M{
		"properties": docstore.M{
			timestampField: docstore.M{"type": "double"},
			producerField:  docstore.M{"type": "keyword"},
			dataField:      schema.Mapping(structure),
		},
	}
}

// AddRecordStore registers a record type and creates its index.
func (s *Store) AddRecordStore(ctx context.Context, name string, structure *schema.Component, enc schema.Encoding) (*RecordStore, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if name == "" || strings.HasPrefix(name, "__") {
		return nil, errors.Wrapf(ErrInvalidRecordStore, "name %q", name)
	}

	if err := structure.Validate(); err != nil {
		return nil, errors.Wrapf(err, "record store %s", name)
	}

	if structure.Kind != schema.KindRecord {
		return nil, errors.Wrapf(ErrInvalidRecordStore, "%s: structure must be a record, got %s", name, structure.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indices[name]; ok {
		return nil, errors.Wrap(ErrRecordStoreExists, name)
	}

	rs := &RecordStore{
		Name:      name,
		Index:     s.indexNameUnderLock(name),
		Structure: structure.Clone(),
		Encoding:  enc,
	}

	if err := s.backend.EnsureIndex(ctx, rs.Index, recordMapping(rs.Structure)); err != nil {
		return nil, errors.Wrapf(err, "could not create index for %s", name)
	}

	doc, err := encodeRecordStore(rs)
	if err != nil {
		return nil, err
	}

	if err := s.putMeta(ctx, recordStoreID(name), doc); err != nil {
		return nil, errors.Wrapf(err, "could not save record store %s", name)
	}

	s.indices[name] = rs.Index
	s.cache.Add(name, rs)

	s.log.Info().Str("recordStore", name).Str("index", rs.Index).Msg("record store added")
	return rs.clone()
}

// RemoveRecordStore drops the index of a record type with all its records.
func (s *Store) RemoveRecordStore(ctx context.Context, name string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, ok := s.indices[name]
	if !ok {
		return errors.Wrap(ErrUnknownRecordStore, name)
	}

	if err := s.backend.DeleteIndex(ctx, index); err != nil && !errors.Is(err, docstore.ErrIndexMissing) {
		return errors.Wrapf(err, "could not drop index of %s", name)
	}

	if err := s.backend.Delete(ctx, s.cfg.MetadataIndex, recordStoreID(name)); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return errors.Wrapf(err, "could not remove record store %s", name)
	}

	delete(s.indices, name)
	s.cache.Remove(name)
	return nil
}

// RecordStores returns copies of all known record store descriptors.
func (s *Store) RecordStores(ctx context.Context) (map[string]*RecordStore, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	names := make([]string, 0, len(s.indices))
	for name := range s.indices {
		names = append(names, name)
	}
	s.mu.RUnlock()

	out := make(map[string]*RecordStore, len(names))
	for _, name := range names {
		rs, err := s.RecordStore(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = rs
	}

	return out, nil
}

// RecordStore returns a copy of the descriptor of name.
func (s *Store) RecordStore(ctx context.Context, name string) (*RecordStore, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rs, err := s.descriptor(ctx, name)
	if err != nil {
		return nil, err
	}

	return rs.clone()
}

// descriptor returns the cached descriptor of name, loading it from the
// metadata index on a miss. The result is shared and must not be modified.
func (s *Store) descriptor(ctx context.Context, name string) (*RecordStore, error) {
	if rs, ok := s.cache.Get(name); ok {
		return rs, nil
	}

	s.metrics.cacheMiss()

	doc, err := s.backend.Get(ctx, s.cfg.MetadataIndex, recordStoreID(name))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, errors.Wrap(ErrUnknownRecordStore, name)
		}
		return nil, errors.Wrapf(err, "could not load record store %s", name)
	}

	rs, err := decodeRecordStore(doc)
	if err != nil {
		return nil, errors.Wrapf(err, "record store %s", name)
	}

	s.mu.Lock()
	s.indices[name] = rs.Index
	s.mu.Unlock()

	s.cache.Add(name, rs)
	return rs, nil
}

// indexNameUnderLock derives the index of a new record store. Names that
// sanitize to an index already in use get a hash suffix.
func (s *Store) indexNameUnderLock(name string) string {
	index := s.cfg.IndexPrefix + "_" + sanitizeIndexName(name)

	for _, used := range s.indices {
		if used == index {
			return fmt.Sprintf("%s_%016x", index, xxhash.Sum64String(name))
		}
	}

	return index
}

// sanitizeIndexName lowercases name and replaces everything an index name
// cannot hold with '_'.
func sanitizeIndexName(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))

	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}

	out := sb.String()
	if len(out) > maxIndexNameLen {
		out = out[:maxIndexNameLen]
	}
	return out
}
