package scroll

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var ErrExhausted = errors.New("scroll cursor exhausted")
var ErrReadOnly = errors.New("scroll cursor is read only")

// Hit is a single document returned by a page fetch.
type Hit struct {
	ID     string
	Index  string
	Source []byte
}

// Page is one round trip of the continuation protocol. Total is the
// number of matches reported by the server; only the first page's value
// is used.
type Page struct {
	Hits  []Hit
	Token string
	Total int64
}

// Pager is the server side of a scroll: an initial query, continuation by
// token, and release of the server context.
type Pager interface {
	First(ctx context.Context) (*Page, error)
	Next(ctx context.Context, token string) (*Page, error)
	Clear(ctx context.Context, token string) error
}

// Outcome tells what a Step produced.
type Outcome int8

const (
	Item Outcome = iota
	End
	Fault
)

func (o Outcome) String() string {
	switch o {
	case Item:
		return "item"
	case End:
		return "end"
	case Fault:
		return "fault"
	}
	return "unknown"
}

// Policy decides what Next reports after a fetch failure.
type Policy int8

const (
	// FailClosed logs the failure and reports ErrExhausted, as if the
	// result set had ended. Err still returns the cause.
	FailClosed Policy = iota
	// Propagate returns the failure cause from Next.
	Propagate
)

type Option func(c *Cursor)

func WithPolicy(p Policy) Option {
	return func(c *Cursor) {
		c.policy = p
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Cursor) {
		c.log = l
	}
}

// WithOnPage registers a callback invoked with the hit count of every
// fetched page, the first one included.
func WithOnPage(fn func(n int)) Option {
	return func(c *Cursor) {
		c.onPage = fn
	}
}

func WithOnFault(fn func(err error)) Option {
	return func(c *Cursor) {
		c.onFault = fn
	}
}

// Cursor is a single pass iterator over a scrolled result set.
// The page is refilled at the end of Next, as soon as the buffered page
// runs out, so a HasNext right after never waits on the network.
// A Cursor is not safe for concurrent use.
type Cursor struct {
	ctx     context.Context
	pager   Pager
	log     zerolog.Logger
	policy  Policy
	onPage  func(n int)
	onFault func(err error)

	started  bool
	done     bool
	page     []Hit
	pos      int
	token    string
	consumed int64
	total    int64
	err      error
}

func New(ctx context.Context, pager Pager, opts ...Option) *Cursor {
	c := &Cursor{
		ctx:   ctx,
		pager: pager,
		log:   zerolog.Nop(),
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// HasNext reports whether Next will return an item. The first call issues
// the initial query.
func (c *Cursor) HasNext() bool {
	if !c.started {
		c.start()
	}

	if c.done || c.err != nil {
		return false
	}

	return c.consumed < c.total && c.pos < len(c.page)
}

// Next returns the next item. Once the cursor is exhausted it returns
// ErrExhausted, or under Propagate the fetch error that ended it.
func (c *Cursor) Next() (Hit, error) {
	hit, outcome := c.Step()
	switch outcome {
	case Item:
		return hit, nil
	case Fault:
		if c.policy == Propagate {
			return Hit{}, c.err
		}
	}

	return Hit{}, ErrExhausted
}

// Step is Next in result variant form.
func (c *Cursor) Step() (Hit, Outcome) {
	if !c.HasNext() {
		if c.err != nil {
			return Hit{}, Fault
		}
		return Hit{}, End
	}

	hit := c.page[c.pos]
	c.pos++
	c.consumed++

	if c.pos >= len(c.page) && c.consumed < c.total {
		c.refill()
	}

	return hit, Item
}

// Err returns the fetch failure that terminated the cursor, if any.
func (c *Cursor) Err() error {
	return c.err
}

func (c *Cursor) Remove() error {
	return ErrReadOnly
}

// Consumed returns the number of items handed out so far.
func (c *Cursor) Consumed() int64 {
	return c.consumed
}

// Total returns the match count reported by the first page.
func (c *Cursor) Total() int64 {
	return c.total
}

// Close releases the server side scroll context. It is safe to call more
// than once.
func (c *Cursor) Close() error {
	c.done = true
	c.page = nil

	if c.token == "" {
		return nil
	}

	token := c.token
	c.token = ""
	if err := c.pager.Clear(context.Background(), token); err != nil {
		return errors.Wrap(err, "could not clear scroll")
	}

	return nil
}

func (c *Cursor) start() {
	c.started = true

	p, err := c.pager.First(c.ctx)
	if err != nil {
		c.fail(err, "initial scroll query failed")
		return
	}

	c.total = p.Total
	c.accept(p)
}

func (c *Cursor) refill() {
	if err := c.ctx.Err(); err != nil {
		c.fail(err, "scroll cancelled")
		return
	}

	p, err := c.pager.Next(c.ctx, c.token)
	if err != nil {
		c.fail(err, "scroll continuation failed")
		return
	}

	c.accept(p)
}

func (c *Cursor) accept(p *Page) {
	if p.Token != "" {
		c.token = p.Token
	}

	c.page = p.Hits
	c.pos = 0

	if c.onPage != nil {
		c.onPage(len(p.Hits))
	}

	if len(p.Hits) == 0 {
		// an empty page ends the scroll even when the total says otherwise
		if c.consumed < c.total {
			c.log.Debug().
				Int64("consumed", c.consumed).
				Int64("total", c.total).
				Msg("empty page before reported total")
		}
		c.done = true
	}
}

func (c *Cursor) fail(err error, msg string) {
	c.err = errors.Wrap(err, msg)
	c.done = true
	c.page = nil

	c.log.Error().
		Err(err).
		Int64("consumed", c.consumed).
		Int64("total", c.total).
		Msg(msg)

	if c.onFault != nil {
		c.onFault(c.err)
	}
}
