// Package docstore is the contract between the observation store and a
// document engine.
package docstore

import (
	"context"
	"strings"
	"time"

	"github.com/denismitr/esobs/internal/scroll"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("document not found")
var ErrIndexMissing = errors.New("index does not exist")
var ErrScrollExpired = errors.New("scroll context expired or unknown")
var ErrClosed = errors.New("backend closed")

// M is a JSON object.
type M = map[string]interface{}

// Term matches documents whose keyword field equals one of Values.
// Unless Exact is set, values may contain '*' and '?' wildcards.
type Term struct {
	Field  string
	Values []string
	Exact  bool
}

func (t Term) HasWildcards() bool {
	if t.Exact {
		return false
	}
	for _, v := range t.Values {
		if strings.ContainsAny(v, "*?") {
			return true
		}
	}
	return false
}

// Range matches documents whose numeric field lies in [From, To]. A NaN
// bound matches nothing.
type Range struct {
	Field string
	From  float64
	To    float64
}

// Query is a conjunction of all its clauses. The zero Query matches
// everything.
type Query struct {
	IDs    []string
	Terms  []Term
	Ranges []Range
}

func (q Query) IsEmpty() bool {
	return len(q.IDs) == 0 && len(q.Terms) == 0 && len(q.Ranges) == 0
}

type Sort struct {
	Field string
	Desc  bool
}

type ScrollOptions struct {
	PageSize  int
	KeepAlive time.Duration
	Sort      []Sort
}

// Stats summarises a numeric field over matching documents. Min and Max
// are NaN when Count is zero.
type Stats struct {
	Count int64
	Min   float64
	Max   float64
}

// Backend is a document engine: indices of JSON documents addressed by id.
type Backend interface {
	// EnsureIndex creates index with mapping unless it exists.
	EnsureIndex(ctx context.Context, index string, mapping M) error
	DeleteIndex(ctx context.Context, index string) error

	Put(ctx context.Context, index, id string, doc []byte) error
	Get(ctx context.Context, index, id string) ([]byte, error)
	Delete(ctx context.Context, index, id string) error
	DeleteByQuery(ctx context.Context, index string, q Query) (int64, error)

	Count(ctx context.Context, index string, q Query) (int64, error)
	Stats(ctx context.Context, index string, q Query, field string) (Stats, error)
	Terms(ctx context.Context, index string, q Query, field string, size int) ([]string, error)

	// Scroll binds a query to a continuation protocol. No request is made
	// until the pager's First is called.
	Scroll(index string, q Query, opts ScrollOptions) scroll.Pager

	// Flush makes every write issued so far durable and visible to reads.
	Flush(ctx context.Context, indices ...string) error
	Close(ctx context.Context) error
}
