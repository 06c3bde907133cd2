// Package elastic is the Elasticsearch docstore.Backend.
package elastic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/denismitr/esobs/internal/docstore"
	"github.com/denismitr/esobs/internal/scroll"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/pbnjay/memory"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

var ErrRequestFailed = errors.New("elasticsearch request failed")
var ErrBulkFailures = errors.New("bulk indexing had failures")

const (
	defaultBulkWorkers    = 2
	defaultBulkFlushBytes = 5 << 20
)

// bulkFlushBytes caps the flush threshold at 1/1024 of physical memory for
// every worker buffer.
func bulkFlushBytes(workers int) int {
	limit := int(memory.TotalMemory() / 1024 / uint64(workers))
	if limit > 0 && limit < defaultBulkFlushBytes {
		return limit
	}
	return defaultBulkFlushBytes
}

type Config struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
	CloudID   string
	Transport http.RoundTripper

	// Bulk routes Put through a client-side batching indexer. Writes become
	// visible after Flush.
	Bulk              bool
	BulkWorkers       int
	BulkFlushBytes    int
	BulkFlushInterval time.Duration

	// Refresh is passed to single document writes: "", "true" or "wait_for".
	Refresh string

	Logger *zerolog.Logger
}

type Backend struct {
	es  *elasticsearch.Client
	cfg Config
	log zerolog.Logger

	mu       sync.RWMutex
	bulk     esutil.BulkIndexer
	failed   uint64
	lastFail atomic.Value
}

func New(cfg Config) (*Backend, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		CloudID:   cfg.CloudID,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create elasticsearch client")
	}

	b := &Backend{es: es, cfg: cfg, log: zerolog.Nop()}
	if cfg.Logger != nil {
		b.log = cfg.Logger.With().Str("backend", "elastic").Logger()
	}

	if b.cfg.BulkWorkers <= 0 {
		b.cfg.BulkWorkers = defaultBulkWorkers
	}

	if b.cfg.BulkFlushBytes <= 0 {
		b.cfg.BulkFlushBytes = bulkFlushBytes(b.cfg.BulkWorkers)
	}

	if cfg.Bulk {
		if b.bulk, err = b.newBulkIndexer(); err != nil {
			return nil, err
		}
	}

	return b, nil
}

func (b *Backend) newBulkIndexer() (esutil.BulkIndexer, error) {
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:        b.es,
		NumWorkers:    b.cfg.BulkWorkers,
		FlushBytes:    b.cfg.BulkFlushBytes,
		FlushInterval: b.cfg.BulkFlushInterval,
		OnError: func(ctx context.Context, err error) {
			b.recordFailure(err)
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create bulk indexer")
	}
	return bi, nil
}

func (b *Backend) recordFailure(err error) {
	atomic.AddUint64(&b.failed, 1)
	b.lastFail.Store(err.Error())
	b.log.Error().Err(err).Msg("bulk write failed")
}

func (b *Backend) EnsureIndex(ctx context.Context, index string, mapping docstore.M) error {
	res, err := b.es.Indices.Exists([]string{index}, b.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "could not check index %s", index)
	}
	drain(res)

	if res.StatusCode == http.StatusOK {
		return nil
	}

	body := M{}
	if mapping != nil {
		body["mappings"] = mapping
	}

	res, err = b.es.Indices.Create(
		index,
		b.es.Indices.Create.WithBody(esutil.NewJSONReader(body)),
		b.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return errors.Wrapf(err, "could not create index %s", index)
	}

	raw, err := readBody(res)
	if err != nil {
		return err
	}

	if res.IsError() {
		// lost a race with another writer creating the same index
		if gjson.GetBytes(raw, "error.type").String() == "resource_already_exists_exception" {
			return nil
		}
		return responseError(res, raw, "create index %s", index)
	}

	b.log.Debug().Str("index", index).Msg("index created")
	return nil
}

func (b *Backend) DeleteIndex(ctx context.Context, index string) error {
	res, err := b.es.Indices.Delete([]string{index}, b.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "could not delete index %s", index)
	}

	raw, err := readBody(res)
	if err != nil {
		return err
	}

	if res.IsError() {
		return responseError(res, raw, "delete index %s", index)
	}

	return nil
}

func (b *Backend) Put(ctx context.Context, index, id string, doc []byte) error {
	b.mu.RLock()
	if b.bulk != nil {
		err := b.bulk.Add(ctx, esutil.BulkIndexerItem{
			Index:      index,
			Action:     "index",
			DocumentID: id,
			Body:       bytes.NewReader(doc),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err == nil {
					err = errors.Errorf("%s/%s: %s: %s", item.Index, item.DocumentID, res.Error.Type, res.Error.Reason)
				}
				b.recordFailure(err)
			},
		})
		b.mu.RUnlock()
		if err != nil {
			return errors.Wrapf(err, "could not queue %s/%s", index, id)
		}
		return nil
	}
	b.mu.RUnlock()

	opts := []func(*esapi.IndexRequest){
		b.es.Index.WithDocumentID(id),
		b.es.Index.WithContext(ctx),
	}
	if b.cfg.Refresh != "" {
		opts = append(opts, b.es.Index.WithRefresh(b.cfg.Refresh))
	}

	res, err := b.es.Index(index, bytes.NewReader(doc), opts...)
	if err != nil {
		return errors.Wrapf(err, "could not index %s/%s", index, id)
	}

	raw, err := readBody(res)
	if err != nil {
		return err
	}

	if res.IsError() {
		return responseError(res, raw, "index %s/%s", index, id)
	}

	return nil
}

func (b *Backend) Get(ctx context.Context, index, id string) ([]byte, error) {
	res, err := b.es.Get(index, id, b.es.Get.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "could not get %s/%s", index, id)
	}

	raw, err := readBody(res)
	if err != nil {
		return nil, err
	}

	if res.StatusCode == http.StatusNotFound && gjson.GetBytes(raw, "found").Exists() {
		return nil, errors.Wrapf(docstore.ErrNotFound, "%s/%s", index, id)
	}

	if res.IsError() {
		return nil, responseError(res, raw, "get %s/%s", index, id)
	}

	return []byte(gjson.GetBytes(raw, "_source").Raw), nil
}

func (b *Backend) Delete(ctx context.Context, index, id string) error {
	opts := []func(*esapi.DeleteRequest){b.es.Delete.WithContext(ctx)}
	if b.cfg.Refresh != "" {
		opts = append(opts, b.es.Delete.WithRefresh(b.cfg.Refresh))
	}

	res, err := b.es.Delete(index, id, opts...)
	if err != nil {
		return errors.Wrapf(err, "could not delete %s/%s", index, id)
	}

	raw, err := readBody(res)
	if err != nil {
		return err
	}

	if res.StatusCode == http.StatusNotFound && gjson.GetBytes(raw, "result").String() == "not_found" {
		return errors.Wrapf(docstore.ErrNotFound, "%s/%s", index, id)
	}

	if res.IsError() {
		return responseError(res, raw, "delete %s/%s", index, id)
	}

	return nil
}

func (b *Backend) DeleteByQuery(ctx context.Context, index string, q docstore.Query) (int64, error) {
	res, err := b.es.DeleteByQuery(
		[]string{index},
		esutil.NewJSONReader(M{"query": queryDSL(q)}),
		b.es.DeleteByQuery.WithContext(ctx),
		b.es.DeleteByQuery.WithRefresh(true),
		b.es.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return 0, errors.Wrapf(err, "could not delete by query in %s", index)
	}

	raw, err := readBody(res)
	if err != nil {
		return 0, err
	}

	if res.IsError() {
		return 0, responseError(res, raw, "delete by query in %s", index)
	}

	return gjson.GetBytes(raw, "deleted").Int(), nil
}

func (b *Backend) Count(ctx context.Context, index string, q docstore.Query) (int64, error) {
	res, err := b.es.Count(
		b.es.Count.WithIndex(index),
		b.es.Count.WithBody(esutil.NewJSONReader(M{"query": queryDSL(q)})),
		b.es.Count.WithContext(ctx),
	)
	if err != nil {
		return 0, errors.Wrapf(err, "could not count in %s", index)
	}

	raw, err := readBody(res)
	if err != nil {
		return 0, err
	}

	if res.IsError() {
		return 0, responseError(res, raw, "count in %s", index)
	}

	return gjson.GetBytes(raw, "count").Int(), nil
}

func (b *Backend) Stats(ctx context.Context, index string, q docstore.Query, field string) (docstore.Stats, error) {
	st := docstore.Stats{Min: math.NaN(), Max: math.NaN()}

	raw, err := b.aggregate(ctx, index, q, M{
		"min_value":   M{"min": M{"field": field}},
		"max_value":   M{"max": M{"field": field}},
		"value_count": M{"value_count": M{"field": field}},
	})
	if err != nil {
		return st, err
	}

	aggs := gjson.GetBytes(raw, "aggregations")
	st.Count = aggs.Get("value_count.value").Int()
	if st.Count == 0 {
		return st, nil
	}

	st.Min = aggs.Get("min_value.value").Float()
	st.Max = aggs.Get("max_value.value").Float()
	return st, nil
}

func (b *Backend) Terms(ctx context.Context, index string, q docstore.Query, field string, size int) ([]string, error) {
	if size <= 0 {
		size = 10000
	}

	raw, err := b.aggregate(ctx, index, q, M{
		"values": M{"terms": M{"field": field, "size": size}},
	})
	if err != nil {
		return nil, err
	}

	buckets := gjson.GetBytes(raw, "aggregations.values.buckets.#.key").Array()
	terms := make([]string, len(buckets))
	for i, k := range buckets {
		terms[i] = k.String()
	}

	return terms, nil
}

func (b *Backend) aggregate(ctx context.Context, index string, q docstore.Query, aggs M) ([]byte, error) {
	res, err := b.es.Search(
		b.es.Search.WithIndex(index),
		b.es.Search.WithBody(esutil.NewJSONReader(M{
			"size":  0,
			"query": queryDSL(q),
			"aggs":  aggs,
		})),
		b.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "could not aggregate in %s", index)
	}

	raw, err := readBody(res)
	if err != nil {
		return nil, err
	}

	if res.IsError() {
		return nil, responseError(res, raw, "aggregate in %s", index)
	}

	return raw, nil
}

func (b *Backend) Scroll(index string, q docstore.Query, opts docstore.ScrollOptions) scroll.Pager {
	return &pager{b: b, index: index, q: q, opts: opts}
}

// Flush drains the bulk indexer, then refreshes the given indices so
// searches see every write made so far.
func (b *Backend) Flush(ctx context.Context, indices ...string) error {
	if err := b.drainBulk(ctx, true); err != nil {
		return err
	}

	opts := []func(*esapi.IndicesRefreshRequest){b.es.Indices.Refresh.WithContext(ctx)}
	if len(indices) > 0 {
		opts = append(opts, b.es.Indices.Refresh.WithIndex(indices...))
	}

	res, err := b.es.Indices.Refresh(opts...)
	if err != nil {
		return errors.Wrap(err, "could not refresh")
	}

	raw, err := readBody(res)
	if err != nil {
		return err
	}

	if res.IsError() {
		return responseError(res, raw, "refresh")
	}

	return nil
}

func (b *Backend) Close(ctx context.Context) error {
	return b.drainBulk(ctx, false)
}

func (b *Backend) drainBulk(ctx context.Context, reopen bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bulk == nil {
		return nil
	}

	if err := b.bulk.Close(ctx); err != nil {
		return errors.Wrap(err, "could not flush bulk indexer")
	}

	stats := b.bulk.Stats()
	b.log.Debug().
		Uint64("indexed", stats.NumIndexed).
		Uint64("failed", stats.NumFailed).
		Uint64("requests", stats.NumRequests).
		Msg("bulk indexer flushed")

	b.bulk = nil
	if reopen {
		bi, err := b.newBulkIndexer()
		if err != nil {
			return err
		}
		b.bulk = bi
	}

	if n := atomic.SwapUint64(&b.failed, 0); n > 0 {
		last, _ := b.lastFail.Load().(string)
		return errors.Wrapf(ErrBulkFailures, "%d failed, last: %s", n, last)
	}

	return nil
}

func readBody(res *esapi.Response) ([]byte, error) {
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "could not read response body")
	}

	return raw, nil
}

func drain(res *esapi.Response) {
	if res.Body != nil {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}
}

func responseError(res *esapi.Response, raw []byte, format string, args ...interface{}) error {
	errType := gjson.GetBytes(raw, "error.type").String()
	rootType := gjson.GetBytes(raw, "error.root_cause.0.type").String()
	reason := gjson.GetBytes(raw, "error.reason").String()

	base := ErrRequestFailed
	switch {
	case errType == "index_not_found_exception":
		base = docstore.ErrIndexMissing
	case errType == "search_context_missing_exception", rootType == "search_context_missing_exception":
		base = docstore.ErrScrollExpired
	}

	return errors.Wrapf(base, "%s: [%d] %s: %s", fmt.Sprintf(format, args...), res.StatusCode, errType, reason)
}
