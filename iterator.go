package esobs

import (
	"context"

	"github.com/denismitr/esobs/internal/docstore"
	"github.com/denismitr/esobs/internal/scroll"
	"github.com/pkg/errors"
)

// ErrExhausted is returned by RecordIterator.Next past the last record.
var ErrExhausted = scroll.ErrExhausted

// ErrReadOnly is returned by RecordIterator.Remove.
var ErrReadOnly = scroll.ErrReadOnly

// RecordIterator walks the records a filter selects, oldest first, one
// scroll page at a time. It must be closed to release the server side
// scroll and is not safe for concurrent use.
type RecordIterator struct {
	rs *RecordStore
	c  *scroll.Cursor
}

// Records opens a scroll over the records the filter selects.
func (s *Store) Records(ctx context.Context, f Filter) (*RecordIterator, error) {
	return s.records(ctx, f, s.iteratorPolicy())
}

func (s *Store) records(ctx context.Context, f Filter, policy scroll.Policy) (*RecordIterator, error) {
	rs, err := s.filterStore(ctx, f)
	if err != nil {
		return nil, err
	}

	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = s.cfg.ScrollPageSize
	}

	pager := s.backend.Scroll(rs.Index, f.query(), docstore.ScrollOptions{
		PageSize:  pageSize,
		KeepAlive: s.cfg.ScrollKeepAlive,
		Sort:      []docstore.Sort{{Field: timestampField}},
	})

	name := rs.Name
	c := scroll.New(ctx, pager,
		scroll.WithPolicy(policy),
		scroll.WithLogger(s.log.With().Str("recordStore", name).Logger()),
		scroll.WithOnPage(func(n int) { s.metrics.page(name, n) }),
		scroll.WithOnFault(func(error) { s.metrics.fault(name) }),
	)

	return &RecordIterator{rs: rs, c: c}, nil
}

func (it *RecordIterator) HasNext() bool {
	return it.c.HasNext()
}

// Next returns the next record. A record that fails to decode is reported
// with its error and iteration may go on past it.
func (it *RecordIterator) Next() (*Record, error) {
	hit, err := it.c.Next()
	if err != nil {
		return nil, err
	}

	return decodeRecord(it.rs, hit.ID, hit.Source)
}

// Err returns the fetch failure that ended the iteration, if any.
func (it *RecordIterator) Err() error {
	return it.c.Err()
}

// Total is the number of matching records reported when the scroll opened.
func (it *RecordIterator) Total() int64 {
	return it.c.Total()
}

func (it *RecordIterator) Remove() error {
	return it.c.Remove()
}

func (it *RecordIterator) Close() error {
	return it.c.Close()
}

// ScanRecords calls fn for every record the filter selects. Fetch and
// decode failures end the scan and are returned, as is any error from fn.
func (s *Store) ScanRecords(ctx context.Context, f Filter, fn func(r *Record) error) error {
	it, err := s.records(ctx, f, scroll.Propagate)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.HasNext() {
		r, err := it.Next()
		if err != nil {
			return err
		}

		if err := fn(r); err != nil {
			return err
		}
	}

	if err := it.Err(); err != nil {
		return errors.Wrapf(err, "scan of %s ended early", it.rs.Name)
	}

	return nil
}
