package esobs

import (
	"context"
	"math"

	"github.com/denismitr/esobs/internal/codec"
	"github.com/denismitr/esobs/internal/docstore"
	"github.com/denismitr/esobs/internal/scroll"
	"github.com/pkg/errors"
)

var ErrDescriptionNotFound = errors.New("description not found")
var ErrInvalidDescription = errors.New("invalid description")

// Description describes a data source over a period of validity starting
// at ValidFrom. A data source accumulates one description per change.
type Description struct {
	UniqueID    string
	Name        string
	Definition  string
	Description string
	ValidFrom   float64 // seconds since epoch
	Outputs     []string
	Properties  map[string]string
}

func descriptionID(uniqueID string, validFrom float64) string {
	return RecordKey{RecordType: descriptionType, ProducerID: uniqueID, Timestamp: validFrom}.Encode()
}

func (d *Description) validate() error {
	if d.UniqueID == "" {
		return errors.Wrap(ErrInvalidDescription, "no unique id")
	}
	if math.IsNaN(d.ValidFrom) || math.IsInf(d.ValidFrom, 0) {
		return errors.Wrapf(ErrInvalidDescription, "%s: validity must be finite", d.UniqueID)
	}
	return nil
}

func historyQuery(uniqueID string, from, to float64) docstore.Query {
	return docstore.Query{
		Terms: []docstore.Term{
			{Field: metaKindField, Values: []string{kindDescription}, Exact: true},
			{Field: metaProducerField, Values: []string{uniqueID}, Exact: true},
		},
		Ranges: []docstore.Range{{Field: metaTimestampField, From: from, To: to}},
	}
}

// AddDescription stores a new version of a data source description.
func (s *Store) AddDescription(ctx context.Context, d *Description) error {
	return s.putDescription(ctx, d, false)
}

// UpdateDescription replaces the version valid from d.ValidFrom.
func (s *Store) UpdateDescription(ctx context.Context, d *Description) error {
	return s.putDescription(ctx, d, true)
}

func (s *Store) putDescription(ctx context.Context, d *Description, mustExist bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := d.validate(); err != nil {
		return err
	}

	id := descriptionID(d.UniqueID, d.ValidFrom)

	if mustExist {
		if _, err := s.getMeta(ctx, id); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return errors.Wrapf(ErrDescriptionNotFound, "%s at %v", d.UniqueID, d.ValidFrom)
			}
			return err
		}
	}

	blob, err := codec.Encode(d)
	if err != nil {
		return err
	}

	doc := metaDoc{
		Kind:       kindDescription,
		Name:       d.Name,
		ProducerID: d.UniqueID,
		Timestamp:  d.ValidFrom,
		Blob:       blob,
	}

	if err := s.putMeta(ctx, id, doc); err != nil {
		return errors.Wrapf(err, "could not save description of %s", d.UniqueID)
	}

	return nil
}

// LatestDescription returns the most recent description of a data source.
func (s *Store) LatestDescription(ctx context.Context, uniqueID string) (*Description, error) {
	return s.DescriptionAt(ctx, uniqueID, math.Inf(1))
}

// DescriptionAt returns the description of a data source that was valid
// at time t.
func (s *Store) DescriptionAt(ctx context.Context, uniqueID string, t float64) (*Description, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	q := historyQuery(uniqueID, math.Inf(-1), t)
	c := scroll.New(ctx, s.metadataScroll(q, true), scroll.WithPolicy(scroll.Propagate), scroll.WithLogger(s.log))
	defer c.Close()

	if !c.HasNext() {
		if err := c.Err(); err != nil {
			return nil, errors.Wrapf(err, "could not look up description of %s", uniqueID)
		}
		return nil, errors.Wrapf(ErrDescriptionNotFound, "%s at %v", uniqueID, t)
	}

	hit, err := c.Next()
	if err != nil {
		return nil, err
	}

	return decodeDescription(hit.Source)
}

// DescriptionHistory returns every description of a data source, oldest
// first.
func (s *Store) DescriptionHistory(ctx context.Context, uniqueID string) ([]*Description, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	q := historyQuery(uniqueID, math.Inf(-1), math.Inf(1))
	c := scroll.New(ctx, s.metadataScroll(q, false), scroll.WithPolicy(scroll.Propagate), scroll.WithLogger(s.log))
	defer c.Close()

	var out []*Description
	for c.HasNext() {
		hit, err := c.Next()
		if err != nil {
			return nil, err
		}

		d, err := decodeDescription(hit.Source)
		if err != nil {
			return nil, errors.Wrapf(err, "metadata document %s", hit.ID)
		}
		out = append(out, d)
	}

	if err := c.Err(); err != nil {
		return nil, errors.Wrapf(err, "could not read history of %s", uniqueID)
	}

	return out, nil
}

func (s *Store) RemoveDescription(ctx context.Context, uniqueID string, validFrom float64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.backend.Delete(ctx, s.cfg.MetadataIndex, descriptionID(uniqueID, validFrom))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return errors.Wrapf(ErrDescriptionNotFound, "%s at %v", uniqueID, validFrom)
		}
		return errors.Wrapf(err, "could not remove description of %s", uniqueID)
	}

	return nil
}

// RemoveDescriptionHistory removes the descriptions of a data source valid
// from within tr and returns how many were removed.
func (s *Store) RemoveDescriptionHistory(ctx context.Context, uniqueID string, tr TimeRange) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	if tr.IsEmpty() {
		return 0, errors.Wrapf(ErrInvalidFilter, "%s: time range has NaN bounds", uniqueID)
	}

	n, err := s.backend.DeleteByQuery(ctx, s.cfg.MetadataIndex, historyQuery(uniqueID, tr.From, tr.To))
	if err != nil {
		return 0, errors.Wrapf(err, "could not remove history of %s", uniqueID)
	}

	return n, nil
}

func decodeDescription(raw []byte) (*Description, error) {
	doc, err := unmarshalMeta(raw)
	if err != nil {
		return nil, err
	}

	if doc.Kind != kindDescription {
		return nil, errors.Wrapf(ErrCorruptMetadata, "kind %q is not a description", doc.Kind)
	}

	var d Description
	if err := codec.Decode(doc.Blob, &d); err != nil {
		return nil, errors.Wrap(ErrCorruptMetadata, err.Error())
	}

	return &d, nil
}
