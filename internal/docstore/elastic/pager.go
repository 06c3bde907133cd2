package elastic

import (
	"context"
	"time"

	"github.com/denismitr/esobs/internal/docstore"
	"github.com/denismitr/esobs/internal/scroll"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	defaultPageSize  = 1000
	defaultKeepAlive = time.Minute
)

type pager struct {
	b     *Backend
	index string
	q     docstore.Query
	opts  docstore.ScrollOptions
}

func (p *pager) pageSize() int {
	if p.opts.PageSize <= 0 {
		return defaultPageSize
	}
	return p.opts.PageSize
}

func (p *pager) keepAlive() time.Duration {
	if p.opts.KeepAlive <= 0 {
		return defaultKeepAlive
	}
	return p.opts.KeepAlive
}

func (p *pager) First(ctx context.Context) (*scroll.Page, error) {
	es := p.b.es

	res, err := es.Search(
		es.Search.WithIndex(p.index),
		es.Search.WithBody(esutil.NewJSONReader(M{
			"query": queryDSL(p.q),
			"sort":  sortDSL(p.opts.Sort),
		})),
		es.Search.WithSize(p.pageSize()),
		es.Search.WithScroll(p.keepAlive()),
		es.Search.WithTrackTotalHits(true),
		es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open scroll on %s", p.index)
	}

	raw, err := readBody(res)
	if err != nil {
		return nil, err
	}

	if res.IsError() {
		return nil, responseError(res, raw, "open scroll on %s", p.index)
	}

	return parsePage(raw), nil
}

func (p *pager) Next(ctx context.Context, token string) (*scroll.Page, error) {
	es := p.b.es

	res, err := es.Scroll(
		es.Scroll.WithScrollID(token),
		es.Scroll.WithScroll(p.keepAlive()),
		es.Scroll.WithContext(ctx),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "could not continue scroll on %s", p.index)
	}

	raw, err := readBody(res)
	if err != nil {
		return nil, err
	}

	if res.IsError() {
		return nil, responseError(res, raw, "continue scroll on %s", p.index)
	}

	return parsePage(raw), nil
}

func (p *pager) Clear(ctx context.Context, token string) error {
	es := p.b.es

	res, err := es.ClearScroll(
		es.ClearScroll.WithScrollID(token),
		es.ClearScroll.WithContext(ctx),
	)
	if err != nil {
		return errors.Wrap(err, "could not clear scroll")
	}

	raw, err := readBody(res)
	if err != nil {
		return err
	}

	// an already expired context is as good as cleared
	if res.IsError() && res.StatusCode != 404 {
		return responseError(res, raw, "clear scroll")
	}

	return nil
}

func parsePage(raw []byte) *scroll.Page {
	page := &scroll.Page{Token: gjson.GetBytes(raw, "_scroll_id").String()}

	total := gjson.GetBytes(raw, "hits.total")
	if total.IsObject() {
		page.Total = total.Get("value").Int()
	} else {
		page.Total = total.Int()
	}

	hits := gjson.GetBytes(raw, "hits.hits").Array()
	page.Hits = make([]scroll.Hit, len(hits))
	for i, h := range hits {
		page.Hits[i] = scroll.Hit{
			ID:     h.Get("_id").String(),
			Index:  h.Get("_index").String(),
			Source: []byte(h.Get("_source").Raw),
		}
	}

	return page
}
