// Package memstore is an in-process docstore.Backend. Documents live in
// one btree per index ordered by id; scrolls are snapshots kept alive
// server-side until their keep-alive lapses.
package memstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/denismitr/esobs/internal/docstore"
	"github.com/denismitr/esobs/internal/scroll"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tidwall/btree"
	"github.com/tidwall/gjson"
	"github.com/tidwall/match"
)

var ErrInvalidDocument = errors.New("document is not valid json")

const castPanic = "how could a btree item not be of type *entry"

const (
	defaultPageSize  = 100
	defaultKeepAlive = time.Minute
)

type entry struct {
	id  string
	doc []byte
}

func byIDs(a, b interface{}) bool {
	i1, i2 := a.(*entry), b.(*entry)
	return i1.id < i2.id
}

type index struct {
	mapping docstore.M
	docs    *btree.BTree
}

func newIndex(mapping docstore.M) *index {
	return &index{mapping: mapping, docs: btree.NewNonConcurrent(byIDs)}
}

type scrollCtx struct {
	hits      []scroll.Hit
	pos       int
	pageSize  int
	keepAlive time.Duration
	deadline  time.Time
}

type Store struct {
	mu      sync.RWMutex
	indices map[string]*index
	scrolls map[string]*scrollCtx
	now     func() time.Time
	closed  bool
}

func New() *Store {
	return &Store{
		indices: make(map[string]*index),
		scrolls: make(map[string]*scrollCtx),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for scroll expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) EnsureIndex(ctx context.Context, name string, mapping docstore.M) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return docstore.ErrClosed
	}

	if idx, ok := s.indices[name]; ok {
		if idx.mapping == nil {
			idx.mapping = mapping
		}
		return nil
	}

	s.indices[name] = newIndex(mapping)
	return nil
}

func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indices[name]; !ok {
		return errors.Wrapf(docstore.ErrIndexMissing, "index %s", name)
	}

	delete(s.indices, name)
	return nil
}

// Mapping returns the mapping an index was created with.
func (s *Store) Mapping(name string) (docstore.M, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indices[name]
	if !ok {
		return nil, false
	}
	return idx.mapping, true
}

func (s *Store) Put(ctx context.Context, name, id string, doc []byte) error {
	if !gjson.ValidBytes(doc) {
		return errors.Wrapf(ErrInvalidDocument, "id %s", id)
	}

	cp := make([]byte, len(doc))
	copy(cp, doc)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return docstore.ErrClosed
	}

	idx, ok := s.indices[name]
	if !ok {
		// indexing into an unknown index creates it, as the real engine does
		idx = newIndex(nil)
		s.indices[name] = idx
	}

	idx.docs.Set(&entry{id: id, doc: cp})
	return nil
}

func (s *Store) Get(ctx context.Context, name, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, err := s.indexUnderLock(name)
	if err != nil {
		return nil, err
	}

	found := idx.docs.Get(&entry{id: id})
	if found == nil {
		return nil, errors.Wrapf(docstore.ErrNotFound, "%s/%s", name, id)
	}

	ent, ok := found.(*entry)
	if !ok {
		panic(castPanic)
	}

	return ent.doc, nil
}

func (s *Store) Delete(ctx context.Context, name, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.indexUnderLock(name)
	if err != nil {
		return err
	}

	if idx.docs.Delete(&entry{id: id}) == nil {
		return errors.Wrapf(docstore.ErrNotFound, "%s/%s", name, id)
	}

	return nil
}

func (s *Store) DeleteByQuery(ctx context.Context, name string, q docstore.Query) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.indexUnderLock(name)
	if err != nil {
		return 0, err
	}

	var ids []string
	if err := scan(ctx, idx, q, func(ent *entry) bool {
		ids = append(ids, ent.id)
		return true
	}); err != nil {
		return 0, err
	}

	for _, id := range ids {
		idx.docs.Delete(&entry{id: id})
	}

	return int64(len(ids)), nil
}

func (s *Store) Count(ctx context.Context, name string, q docstore.Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, err := s.indexUnderLock(name)
	if err != nil {
		return 0, err
	}

	if q.IsEmpty() {
		return int64(idx.docs.Len()), nil
	}

	var n int64
	err = scan(ctx, idx, q, func(ent *entry) bool {
		n++
		return true
	})

	return n, err
}

func (s *Store) Stats(ctx context.Context, name string, q docstore.Query, field string) (docstore.Stats, error) {
	st := docstore.Stats{Min: math.NaN(), Max: math.NaN()}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, err := s.indexUnderLock(name)
	if err != nil {
		return st, err
	}

	err = scan(ctx, idx, q, func(ent *entry) bool {
		v := gjson.GetBytes(ent.doc, field)
		if v.Type != gjson.Number {
			return true
		}

		f := v.Float()
		if st.Count == 0 || f < st.Min {
			st.Min = f
		}
		if st.Count == 0 || f > st.Max {
			st.Max = f
		}
		st.Count++
		return true
	})

	return st, err
}

// Terms returns distinct values of field, most frequent first.
func (s *Store) Terms(ctx context.Context, name string, q docstore.Query, field string, size int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, err := s.indexUnderLock(name)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	err = scan(ctx, idx, q, func(ent *entry) bool {
		forEachValue(gjson.GetBytes(ent.doc, field), func(v gjson.Result) {
			counts[v.String()]++
		})
		return true
	})
	if err != nil {
		return nil, err
	}

	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}

	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if size > 0 && len(terms) > size {
		terms = terms[:size]
	}

	return terms, nil
}

func (s *Store) Scroll(name string, q docstore.Query, opts docstore.ScrollOptions) scroll.Pager {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = defaultKeepAlive
	}

	return &pager{s: s, index: name, q: q, opts: opts}
}

func (s *Store) Flush(ctx context.Context, indices ...string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return docstore.ErrClosed
	}

	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.scrolls = make(map[string]*scrollCtx)
	return nil
}

// OpenScrolls returns the number of live scroll contexts.
func (s *Store) OpenScrolls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireUnderLock()
	return len(s.scrolls)
}

func (s *Store) indexUnderLock(name string) (*index, error) {
	if s.closed {
		return nil, docstore.ErrClosed
	}

	idx, ok := s.indices[name]
	if !ok {
		return nil, errors.Wrapf(docstore.ErrIndexMissing, "index %s", name)
	}

	return idx, nil
}

func (s *Store) expireUnderLock() {
	now := s.now()
	for id, sc := range s.scrolls {
		if now.After(sc.deadline) {
			delete(s.scrolls, id)
		}
	}
}

type pager struct {
	s     *Store
	index string
	q     docstore.Query
	opts  docstore.ScrollOptions
}

func (p *pager) First(ctx context.Context) (*scroll.Page, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	idx, err := p.s.indexUnderLock(p.index)
	if err != nil {
		return nil, err
	}

	var matched []*entry
	if err := scan(ctx, idx, p.q, func(ent *entry) bool {
		matched = append(matched, ent)
		return true
	}); err != nil {
		return nil, err
	}

	sortEntries(matched, p.opts.Sort)

	hits := make([]scroll.Hit, len(matched))
	for i, ent := range matched {
		hits[i] = scroll.Hit{ID: ent.id, Index: p.index, Source: ent.doc}
	}

	p.s.expireUnderLock()

	token := uuid.New().String()
	sc := &scrollCtx{
		hits:      hits,
		pageSize:  p.opts.PageSize,
		keepAlive: p.opts.KeepAlive,
		deadline:  p.s.now().Add(p.opts.KeepAlive),
	}
	p.s.scrolls[token] = sc

	page := sc.nextPage()
	page.Token = token
	page.Total = int64(len(hits))
	return page, nil
}

func (p *pager) Next(ctx context.Context, token string) (*scroll.Page, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	if p.s.closed {
		return nil, docstore.ErrClosed
	}

	p.s.expireUnderLock()

	sc, ok := p.s.scrolls[token]
	if !ok {
		return nil, errors.Wrapf(docstore.ErrScrollExpired, "scroll %s", token)
	}

	sc.deadline = p.s.now().Add(sc.keepAlive)

	page := sc.nextPage()
	page.Token = token
	page.Total = int64(len(sc.hits))
	return page, nil
}

func (p *pager) Clear(ctx context.Context, token string) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	delete(p.s.scrolls, token)
	return nil
}

func (sc *scrollCtx) nextPage() *scroll.Page {
	end := sc.pos + sc.pageSize
	if end > len(sc.hits) {
		end = len(sc.hits)
	}

	page := &scroll.Page{Hits: sc.hits[sc.pos:end:end]}
	sc.pos = end
	return page
}

func scan(ctx context.Context, idx *index, q docstore.Query, fn func(ent *entry) bool) error {
	var err error

	if len(q.IDs) > 0 {
		ids := append([]string(nil), q.IDs...)
		sort.Strings(ids)
		for _, id := range ids {
			if err = ctx.Err(); err != nil {
				break
			}
			found := idx.docs.Get(&entry{id: id})
			if found == nil {
				continue
			}
			ent := found.(*entry)
			if matches(ent, q) && !fn(ent) {
				break
			}
		}
		return err
	}

	idx.docs.Ascend(nil, func(item interface{}) bool {
		if err = ctx.Err(); err != nil {
			return false
		}

		ent, ok := item.(*entry)
		if !ok {
			panic(castPanic)
		}

		if !matches(ent, q) {
			return true
		}

		return fn(ent)
	})

	return err
}

func matches(ent *entry, q docstore.Query) bool {
	for _, t := range q.Terms {
		v := gjson.GetBytes(ent.doc, t.Field)
		if !v.Exists() {
			return false
		}

		var hit bool
		forEachValue(v, func(r gjson.Result) {
			s := r.String()
			for _, pattern := range t.Values {
				if (t.Exact && s == pattern) || (!t.Exact && match.Match(s, pattern)) {
					hit = true
					return
				}
			}
		})

		if !hit {
			return false
		}
	}

	for _, r := range q.Ranges {
		v := gjson.GetBytes(ent.doc, r.Field)
		if v.Type != gjson.Number {
			return false
		}
		f := v.Float()
		if math.IsNaN(r.From) || math.IsNaN(r.To) || f < r.From || f > r.To {
			return false
		}
	}

	return true
}

func forEachValue(v gjson.Result, fn func(r gjson.Result)) {
	if v.IsArray() {
		for _, e := range v.Array() {
			fn(e)
		}
		return
	}

	if v.Exists() {
		fn(v)
	}
}

func sortEntries(ents []*entry, by []docstore.Sort) {
	if len(by) == 0 {
		return
	}

	sort.SliceStable(ents, func(i, j int) bool {
		for _, s := range by {
			a := gjson.GetBytes(ents[i].doc, s.Field)
			b := gjson.GetBytes(ents[j].doc, s.Field)
			if c := compare(a, b); c != 0 {
				if s.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return false
	})
}

func compare(a, b gjson.Result) int {
	if a.Type == gjson.Number && b.Type == gjson.Number {
		switch fa, fb := a.Float(), b.Float(); {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}

	switch sa, sb := a.String(), b.String(); {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}
