package esobs

import (
	"context"
	"encoding/json"

	"github.com/denismitr/esobs/internal/codec"
	"github.com/denismitr/esobs/internal/docstore"
	"github.com/denismitr/esobs/internal/scroll"
	"github.com/pkg/errors"
)

var ErrCorruptMetadata = errors.New("corrupt metadata document")

const (
	metaKindField      = "kind"
	metaNameField      = "name"
	metaProducerField  = "producerID"
	metaTimestampField = "timestamp"

	kindRecordStore = "recordStore"
	kindDescription = "description"

	// reserved record types naming metadata documents
	recordStoreType = "__recordStore"
	descriptionType = "__description"
)

// metaDoc is a metadata index document. Blob is a codec blob and is
// stored as base64.
type metaDoc struct {
	Kind       string  `json:"kind"`
	Name       string  `json:"name,omitempty"`
	ProducerID string  `json:"producerID,omitempty"`
	Timestamp  float64 `json:"timestamp"`
	Blob       []byte  `json:"blob"`
}

func metadataMapping() docstore.M {
	return docstore.M{
		"properties": docstore.M{
			metaKindField:      docstore.M{"type": "keyword"},
			metaNameField:      docstore.M{"type": "keyword"},
			metaProducerField:  docstore.M{"type": "keyword"},
			metaTimestampField: docstore.M{"type": "double"},
			"blob":             docstore.M{"type": "binary"},
		},
	}
}

func (s *Store) putMeta(ctx context.Context, id string, doc metaDoc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "could not marshal metadata %s", id)
	}

	if err := s.backend.Put(ctx, s.cfg.MetadataIndex, id, raw); err != nil {
		return err
	}

	// metadata must be readable right away, also when writes are batched
	return s.backend.Flush(ctx, s.cfg.MetadataIndex)
}

func (s *Store) getMeta(ctx context.Context, id string) (metaDoc, error) {
	raw, err := s.backend.Get(ctx, s.cfg.MetadataIndex, id)
	if err != nil {
		return metaDoc{}, err
	}
	return unmarshalMeta(raw)
}

func unmarshalMeta(raw []byte) (metaDoc, error) {
	var doc metaDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, errors.Wrap(ErrCorruptMetadata, err.Error())
	}
	return doc, nil
}

func (s *Store) metadataScroll(q docstore.Query, newestFirst bool) scroll.Pager {
	return s.backend.Scroll(s.cfg.MetadataIndex, q, docstore.ScrollOptions{
		PageSize:  s.cfg.ScrollPageSize,
		KeepAlive: s.cfg.ScrollKeepAlive,
		Sort:      []docstore.Sort{{Field: metaTimestampField, Desc: newestFirst}},
	})
}

func recordStoreID(name string) string {
	return RecordKey{RecordType: recordStoreType, ProducerID: name}.Encode()
}

func encodeRecordStore(rs *RecordStore) (metaDoc, error) {
	blob, err := codec.Encode(rs)
	if err != nil {
		return metaDoc{}, err
	}
	return metaDoc{Kind: kindRecordStore, Name: rs.Name, Blob: blob}, nil
}

func decodeRecordStore(raw []byte) (*RecordStore, error) {
	doc, err := unmarshalMeta(raw)
	if err != nil {
		return nil, err
	}

	if doc.Kind != kindRecordStore {
		return nil, errors.Wrapf(ErrCorruptMetadata, "kind %q is not a record store", doc.Kind)
	}

	var rs RecordStore
	if err := codec.Decode(doc.Blob, &rs); err != nil {
		return nil, errors.Wrap(ErrCorruptMetadata, err.Error())
	}

	return &rs, nil
}
