package esobs

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/denismitr/esobs/internal/docstore"
	"github.com/denismitr/esobs/schema"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var ErrRecordNotFound = errors.New("record not found")
var ErrInvalidTimestamp = errors.New("record timestamp must be finite")
var ErrInvalidFilter = errors.New("invalid record filter")

const (
	timestampField = "timestamp"
	producerField  = "producerID"
	dataField      = "data"
)

// Record is one observation: its key and the value of its record store
// structure.
type Record struct {
	Key  RecordKey
	Data schema.Block
}

// TimeRange is an inclusive span of timestamps in seconds.
type TimeRange struct {
	From float64
	To   float64
}

// AllTimes is a TimeRange without bounds.
func AllTimes() TimeRange {
	return TimeRange{From: math.Inf(-1), To: math.Inf(1)}
}

func (tr TimeRange) IsEmpty() bool {
	return math.IsNaN(tr.From) || math.IsNaN(tr.To)
}

// Filter selects records of one record type. Zero fields do not restrict
// the selection. ProducerIDs may carry '*' and '?' wildcards. An empty
// TimeRange is rejected.
type Filter struct {
	RecordType  string
	ProducerIDs []string
	TimeRange   *TimeRange
	Keys        []RecordKey
	PageSize    int
}

func (f Filter) recordType() (string, error) {
	rt := f.RecordType
	if rt == "" && len(f.Keys) > 0 {
		rt = f.Keys[0].RecordType
	}

	if rt == "" {
		return "", errors.Wrap(ErrInvalidFilter, "no record type")
	}

	if f.TimeRange != nil && f.TimeRange.IsEmpty() {
		return "", errors.Wrap(ErrInvalidFilter, "time range has NaN bounds")
	}

	for _, k := range f.Keys {
		if k.RecordType != rt {
			return "", errors.Wrapf(ErrInvalidFilter, "key %s is not a %s record", k, rt)
		}
	}

	return rt, nil
}

func (f Filter) query() docstore.Query {
	var q docstore.Query

	for _, k := range f.Keys {
		q.IDs = append(q.IDs, k.Encode())
	}

	if len(f.ProducerIDs) > 0 {
		q.Terms = append(q.Terms, docstore.Term{Field: producerField, Values: f.ProducerIDs})
	}

	if f.TimeRange != nil {
		q.Ranges = append(q.Ranges, docstore.Range{Field: timestampField, From: f.TimeRange.From, To: f.TimeRange.To})
	}

	return q
}

type recordDoc struct {
	Timestamp  float64     `json:"timestamp"`
	ProducerID string      `json:"producerID"`
	Data       interface{} `json:"data"`
}

func encodeRecord(rs *RecordStore, key RecordKey, data schema.Block) ([]byte, error) {
	if math.IsNaN(key.Timestamp) || math.IsInf(key.Timestamp, 0) {
		return nil, errors.Wrapf(ErrInvalidTimestamp, "%v", key.Timestamp)
	}

	enc, err := schema.Encode(rs.Structure, data)
	if err != nil {
		return nil, errors.Wrapf(err, "could not encode %s record", rs.Name)
	}

	raw, err := json.Marshal(recordDoc{Timestamp: key.Timestamp, ProducerID: key.ProducerID, Data: enc})
	if err != nil {
		return nil, errors.Wrapf(err, "could not marshal %s record", rs.Name)
	}

	return raw, nil
}

// decodeRecord rebuilds a record from its document. The key comes from the
// document id; a malformed id falls back to the document fields.
func decodeRecord(rs *RecordStore, id string, source []byte) (*Record, error) {
	if !gjson.ValidBytes(source) {
		return nil, errors.Wrapf(schema.ErrTypeMismatch, "%s: invalid json", id)
	}

	doc := gjson.ParseBytes(source)

	key := ParseKey(id)
	if key == nil {
		key = &RecordKey{
			RecordType: rs.Name,
			ProducerID: doc.Get(producerField).String(),
			Timestamp:  doc.Get(timestampField).Float(),
		}
	}

	v, err := schema.Decode(rs.Structure, doc.Get(dataField))
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode %s", id)
	}

	return &Record{Key: *key, Data: v.(schema.Block)}, nil
}

// StoreRecord writes a record, replacing any record under the same key.
func (s *Store) StoreRecord(ctx context.Context, key RecordKey, data schema.Block) (err error) {
	defer func(started time.Time) { s.metrics.write(key.RecordType, "store", started, err) }(time.Now())
	return s.putRecord(ctx, key, data)
}

// UpdateRecord replaces an existing record. It fails with
// ErrRecordNotFound when nothing is stored under key.
func (s *Store) UpdateRecord(ctx context.Context, key RecordKey, data schema.Block) (err error) {
	defer func(started time.Time) { s.metrics.write(key.RecordType, "update", started, err) }(time.Now())

	if _, err := s.GetRecord(ctx, key); err != nil {
		return err
	}

	return s.putRecord(ctx, key, data)
}

func (s *Store) putRecord(ctx context.Context, key RecordKey, data schema.Block) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	rs, err := s.descriptor(ctx, key.RecordType)
	if err != nil {
		return err
	}

	raw, err := encodeRecord(rs, key, data)
	if err != nil {
		return err
	}

	if err := s.backend.Put(ctx, rs.Index, key.Encode(), raw); err != nil {
		return errors.Wrapf(err, "could not store %s", key)
	}

	return nil
}

func (s *Store) GetRecord(ctx context.Context, key RecordKey) (*Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rs, err := s.descriptor(ctx, key.RecordType)
	if err != nil {
		return nil, err
	}

	id := key.Encode()
	raw, err := s.backend.Get(ctx, rs.Index, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, errors.Wrap(ErrRecordNotFound, id)
		}
		return nil, errors.Wrapf(err, "could not get %s", id)
	}

	return decodeRecord(rs, id, raw)
}

func (s *Store) RemoveRecord(ctx context.Context, key RecordKey) (err error) {
	defer func(started time.Time) { s.metrics.write(key.RecordType, "remove", started, err) }(time.Now())

	if err := s.checkOpen(); err != nil {
		return err
	}

	rs, err := s.descriptor(ctx, key.RecordType)
	if err != nil {
		return err
	}

	id := key.Encode()
	if err := s.backend.Delete(ctx, rs.Index, id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return errors.Wrap(ErrRecordNotFound, id)
		}
		return errors.Wrapf(err, "could not remove %s", id)
	}

	return nil
}

// RemoveRecords deletes every record the filter selects and returns how
// many were deleted.
func (s *Store) RemoveRecords(ctx context.Context, f Filter) (int64, error) {
	rs, err := s.filterStore(ctx, f)
	if err != nil {
		return 0, err
	}

	n, err := s.backend.DeleteByQuery(ctx, rs.Index, f.query())
	if err != nil {
		return 0, errors.Wrapf(err, "could not remove %s records", rs.Name)
	}

	s.log.Debug().Str("recordStore", rs.Name).Int64("removed", n).Msg("records removed")
	return n, nil
}

func (s *Store) CountRecords(ctx context.Context, f Filter) (int64, error) {
	rs, err := s.filterStore(ctx, f)
	if err != nil {
		return 0, err
	}

	n, err := s.backend.Count(ctx, rs.Index, f.query())
	if err != nil {
		return 0, errors.Wrapf(err, "could not count %s records", rs.Name)
	}

	return n, nil
}

func (s *Store) NumRecords(ctx context.Context, recordType string) (int64, error) {
	return s.CountRecords(ctx, Filter{RecordType: recordType})
}

// TimeRange returns the span of record timestamps of a record type. Both
// bounds are NaN when the record store is empty.
func (s *Store) TimeRange(ctx context.Context, recordType string) (TimeRange, error) {
	empty := TimeRange{From: math.NaN(), To: math.NaN()}

	rs, err := s.filterStore(ctx, Filter{RecordType: recordType})
	if err != nil {
		return empty, err
	}

	st, err := s.backend.Stats(ctx, rs.Index, docstore.Query{}, timestampField)
	if err != nil {
		return empty, errors.Wrapf(err, "could not get time range of %s", recordType)
	}

	if st.Count == 0 {
		return empty, nil
	}

	return TimeRange{From: st.Min, To: st.Max}, nil
}

// ProducerIDs lists the distinct producers that stored records of a
// record type.
func (s *Store) ProducerIDs(ctx context.Context, recordType string) ([]string, error) {
	rs, err := s.filterStore(ctx, Filter{RecordType: recordType})
	if err != nil {
		return nil, err
	}

	ids, err := s.backend.Terms(ctx, rs.Index, docstore.Query{}, producerField, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list producers of %s", recordType)
	}

	return ids, nil
}

func (s *Store) filterStore(ctx context.Context, f Filter) (*RecordStore, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rt, err := f.recordType()
	if err != nil {
		return nil, err
	}

	return s.descriptor(ctx, rt)
}
