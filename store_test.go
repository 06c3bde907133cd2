package esobs_test

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/denismitr/esobs"
	"github.com/denismitr/esobs/internal/docstore"
	"github.com/denismitr/esobs/internal/docstore/memstore"
	"github.com/denismitr/esobs/internal/scroll"
	"github.com/denismitr/esobs/schema"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var errBoom = errors.New("boom")

// faultyBackend fails every scroll continuation.
type faultyBackend struct {
	*memstore.Store
}

func (b *faultyBackend) Scroll(index string, q docstore.Query, opts docstore.ScrollOptions) scroll.Pager {
	return &faultyPager{Pager: b.Store.Scroll(index, q, opts)}
}

type faultyPager struct {
	scroll.Pager
}

func (p *faultyPager) Next(ctx context.Context, token string) (*scroll.Page, error) {
	return nil, errBoom
}

func weatherStructure() *schema.Component {
	return schema.Record("weather",
		schema.Quantity("temperature", "Cel"),
		schema.Category("station"),
		schema.GeoPoint("location", true),
		schema.Text("note").AsOptional(),
	)
}

func weatherData(i int) schema.Block {
	return schema.Block{
		"temperature": float64(i) / 2,
		"station":     fmt.Sprintf("station-%d", i%3),
		"location":    schema.Block{"lat": 45.5, "lon": 9.25, "alt": float64(100 + i)},
	}
}

func weatherKey(i int) esobs.RecordKey {
	return esobs.RecordKey{
		RecordType: "weather",
		ProducerID: fmt.Sprintf("urn:sensor:%d", i%3),
		Timestamp:  1600000000 + float64(i),
	}
}

type storeTestSuite struct {
	suite.Suite
	ctx     context.Context
	backend *memstore.Store
	store   *esobs.Store
}

func (sts *storeTestSuite) SetupTest() {
	sts.ctx = context.Background()
	sts.backend = memstore.New()

	s, err := esobs.New(sts.backend, esobs.Config{IndexPrefix: "test"})
	sts.Require().NoError(err)
	sts.Require().NoError(s.Open(sts.ctx))
	sts.store = s

	_, err = s.AddRecordStore(sts.ctx, "weather", weatherStructure(), schema.JSONEncoding())
	sts.Require().NoError(err)
}

func (sts *storeTestSuite) seed(n int) {
	for i := 0; i < n; i++ {
		sts.Require().NoError(sts.store.StoreRecord(sts.ctx, weatherKey(i), weatherData(i)))
	}
}

func (sts *storeTestSuite) Test_AddRecordStore() {
	sts.Run("index and mapping", func() {
		rs, err := sts.store.RecordStore(sts.ctx, "weather")
		sts.Require().NoError(err)
		sts.Equal("test_weather", rs.Index)
		sts.Equal("json", rs.Encoding.Kind)

		m, ok := sts.backend.Mapping("test_weather")
		sts.Require().True(ok)
		props := m["properties"].(docstore.M)
		sts.Equal(docstore.M{"type": "double"}, props["timestamp"])
		sts.Equal(docstore.M{"type": "keyword"}, props["producerID"])

		data := props["data"].(docstore.M)["properties"].(docstore.M)
		sts.Equal(docstore.M{"type": "geo_point"}, data["location"])
		sts.Equal(docstore.M{"type": "double"}, data["location_alt"])
	})

	sts.Run("duplicate", func() {
		_, err := sts.store.AddRecordStore(sts.ctx, "weather", weatherStructure(), schema.JSONEncoding())
		sts.ErrorIs(err, esobs.ErrRecordStoreExists)
	})

	sts.Run("reserved name", func() {
		_, err := sts.store.AddRecordStore(sts.ctx, "__meta", weatherStructure(), schema.JSONEncoding())
		sts.ErrorIs(err, esobs.ErrInvalidRecordStore)
	})

	sts.Run("structure must be a record", func() {
		_, err := sts.store.AddRecordStore(sts.ctx, "temp", schema.Quantity("t", "Cel"), schema.JSONEncoding())
		sts.ErrorIs(err, esobs.ErrInvalidRecordStore)
	})

	sts.Run("invalid structure", func() {
		_, err := sts.store.AddRecordStore(sts.ctx, "empty", schema.Record("empty"), schema.JSONEncoding())
		sts.ErrorIs(err, schema.ErrInvalidComponent)
	})

	sts.Run("colliding index names are disambiguated", func() {
		rs, err := sts.store.AddRecordStore(sts.ctx, "Weather", weatherStructure(), schema.TextEncoding())
		sts.Require().NoError(err)
		sts.NotEqual("test_weather", rs.Index)
		sts.Contains(rs.Index, "test_weather_")
	})

	sts.Run("sanitized index name", func() {
		rs, err := sts.store.AddRecordStore(sts.ctx, "Air Quality/PM2.5", weatherStructure(), schema.JSONEncoding())
		sts.Require().NoError(err)
		sts.Equal("test_air_quality_pm2_5", rs.Index)
	})
}

func (sts *storeTestSuite) Test_RecordStores() {
	sts.Run("copies are independent", func() {
		stores, err := sts.store.RecordStores(sts.ctx)
		sts.Require().NoError(err)
		sts.Require().Contains(stores, "weather")

		stores["weather"].Structure.Fields[0].Name = "changed"
		stores["weather"].Index = "elsewhere"

		again, err := sts.store.RecordStore(sts.ctx, "weather")
		sts.Require().NoError(err)
		sts.Equal("temperature", again.Structure.Fields[0].Name)
		sts.Equal("test_weather", again.Index)
	})

	sts.Run("rebuilt on open", func() {
		other, err := esobs.New(sts.backend, esobs.Config{IndexPrefix: "test"})
		sts.Require().NoError(err)
		sts.Require().NoError(other.Open(sts.ctx))

		stores, err := other.RecordStores(sts.ctx)
		sts.Require().NoError(err)
		sts.Require().Contains(stores, "weather")
		sts.Equal(weatherStructure(), stores["weather"].Structure)
	})

	sts.Run("unknown", func() {
		_, err := sts.store.RecordStore(sts.ctx, "rain")
		sts.ErrorIs(err, esobs.ErrUnknownRecordStore)
	})

	sts.Run("remove", func() {
		_, err := sts.store.AddRecordStore(sts.ctx, "rain", weatherStructure(), schema.JSONEncoding())
		sts.Require().NoError(err)
		sts.Require().NoError(sts.store.RemoveRecordStore(sts.ctx, "rain"))

		_, err = sts.store.RecordStore(sts.ctx, "rain")
		sts.ErrorIs(err, esobs.ErrUnknownRecordStore)
		_, ok := sts.backend.Mapping("test_rain")
		sts.False(ok)

		sts.ErrorIs(sts.store.RemoveRecordStore(sts.ctx, "rain"), esobs.ErrUnknownRecordStore)
	})
}

func (sts *storeTestSuite) Test_Records() {
	sts.seed(3)

	sts.Run("get", func() {
		r, err := sts.store.GetRecord(sts.ctx, weatherKey(1))
		sts.Require().NoError(err)
		sts.Equal(weatherKey(1), r.Key)
		sts.Equal(weatherData(1), r.Data)
	})

	sts.Run("optional field round trips", func() {
		key := esobs.RecordKey{RecordType: "weather", ProducerID: "urn:sensor:note", Timestamp: 1}
		data := weatherData(0)
		data["note"] = "calibrated"

		sts.Require().NoError(sts.store.StoreRecord(sts.ctx, key, data))
		r, err := sts.store.GetRecord(sts.ctx, key)
		sts.Require().NoError(err)
		sts.Equal("calibrated", r.Data["note"])
	})

	sts.Run("separator in producer id", func() {
		key := esobs.RecordKey{RecordType: "weather", ProducerID: `urn:a##b\c`, Timestamp: -0.5}
		sts.Require().NoError(sts.store.StoreRecord(sts.ctx, key, weatherData(0)))

		r, err := sts.store.GetRecord(sts.ctx, key)
		sts.Require().NoError(err)
		sts.Equal(key, r.Key)
	})

	sts.Run("missing", func() {
		_, err := sts.store.GetRecord(sts.ctx, weatherKey(99))
		sts.ErrorIs(err, esobs.ErrRecordNotFound)
	})

	sts.Run("update", func() {
		sts.ErrorIs(sts.store.UpdateRecord(sts.ctx, weatherKey(99), weatherData(0)), esobs.ErrRecordNotFound)

		sts.Require().NoError(sts.store.UpdateRecord(sts.ctx, weatherKey(2), weatherData(7)))
		r, err := sts.store.GetRecord(sts.ctx, weatherKey(2))
		sts.Require().NoError(err)
		sts.Equal(weatherData(7), r.Data)
	})

	sts.Run("remove", func() {
		sts.Require().NoError(sts.store.RemoveRecord(sts.ctx, weatherKey(0)))
		sts.ErrorIs(sts.store.RemoveRecord(sts.ctx, weatherKey(0)), esobs.ErrRecordNotFound)
	})

	sts.Run("non finite timestamp", func() {
		key := weatherKey(0)
		key.Timestamp = math.NaN()
		sts.ErrorIs(sts.store.StoreRecord(sts.ctx, key, weatherData(0)), esobs.ErrInvalidTimestamp)
	})

	sts.Run("unknown record type", func() {
		key := weatherKey(0)
		key.RecordType = "rain"
		sts.ErrorIs(sts.store.StoreRecord(sts.ctx, key, weatherData(0)), esobs.ErrUnknownRecordStore)
	})

	sts.Run("value does not fit structure", func() {
		data := weatherData(0)
		data["humidity"] = 12.0
		sts.ErrorIs(sts.store.StoreRecord(sts.ctx, weatherKey(5), data), schema.ErrUnknownField)

		delete(data, "humidity")
		delete(data, "station")
		sts.ErrorIs(sts.store.StoreRecord(sts.ctx, weatherKey(5), data), schema.ErrMissingValue)
	})
}

func (sts *storeTestSuite) Test_Iteration() {
	sts.seed(25)

	sts.Run("every record once in time order", func() {
		it, err := sts.store.Records(sts.ctx, esobs.Filter{RecordType: "weather", PageSize: 4})
		sts.Require().NoError(err)
		defer it.Close()

		var n int
		prev := math.Inf(-1)
		for it.HasNext() {
			r, err := it.Next()
			sts.Require().NoError(err)
			sts.Greater(r.Key.Timestamp, prev)
			prev = r.Key.Timestamp
			n++
		}

		sts.Equal(25, n)
		sts.Equal(int64(25), it.Total())
		sts.NoError(it.Err())

		_, err = it.Next()
		sts.ErrorIs(err, esobs.ErrExhausted)
		sts.ErrorIs(it.Remove(), esobs.ErrReadOnly)
	})

	sts.Run("close releases the scroll", func() {
		it, err := sts.store.Records(sts.ctx, esobs.Filter{RecordType: "weather", PageSize: 4})
		sts.Require().NoError(err)
		sts.True(it.HasNext())
		sts.Equal(1, sts.backend.OpenScrolls())
		sts.NoError(it.Close())
		sts.Equal(0, sts.backend.OpenScrolls())
	})

	sts.Run("empty selection", func() {
		it, err := sts.store.Records(sts.ctx, esobs.Filter{RecordType: "weather", ProducerIDs: []string{"nobody"}})
		sts.Require().NoError(err)
		defer it.Close()
		sts.False(it.HasNext())
		sts.NoError(it.Err())
	})

	tt := []struct {
		name string
		f    esobs.Filter
		want int
	}{
		{"producer", esobs.Filter{RecordType: "weather", ProducerIDs: []string{"urn:sensor:1"}}, 8},
		{"producer wildcard", esobs.Filter{RecordType: "weather", ProducerIDs: []string{"urn:sensor:*"}}, 25},
		{"time range", esobs.Filter{RecordType: "weather", TimeRange: &esobs.TimeRange{From: 1600000010, To: 1600000014}}, 5},
		{"keys", esobs.Filter{Keys: []esobs.RecordKey{weatherKey(3), weatherKey(4), weatherKey(77)}}, 2},
		{"everything combined", esobs.Filter{
			RecordType:  "weather",
			ProducerIDs: []string{"urn:sensor:0"},
			TimeRange:   &esobs.TimeRange{From: 1600000000, To: 1600000009},
		}, 4},
	}

	for _, tc := range tt {
		sts.Run(tc.name, func() {
			var n int
			err := sts.store.ScanRecords(sts.ctx, tc.f, func(r *esobs.Record) error {
				n++
				return nil
			})
			sts.Require().NoError(err)
			sts.Equal(tc.want, n)

			count, err := sts.store.CountRecords(sts.ctx, tc.f)
			sts.Require().NoError(err)
			sts.Equal(int64(tc.want), count)
		})
	}

	sts.Run("callback error stops the scan", func() {
		var n int
		err := sts.store.ScanRecords(sts.ctx, esobs.Filter{RecordType: "weather", PageSize: 3}, func(r *esobs.Record) error {
			n++
			if n == 5 {
				return errBoom
			}
			return nil
		})
		sts.ErrorIs(err, errBoom)
		sts.Equal(5, n)
		sts.Equal(0, sts.backend.OpenScrolls())
	})

	sts.Run("keys of another type", func() {
		other := weatherKey(1)
		other.RecordType = "rain"
		_, err := sts.store.Records(sts.ctx, esobs.Filter{RecordType: "weather", Keys: []esobs.RecordKey{other}})
		sts.ErrorIs(err, esobs.ErrInvalidFilter)

		_, err = sts.store.Records(sts.ctx, esobs.Filter{})
		sts.ErrorIs(err, esobs.ErrInvalidFilter)
	})
}

func (sts *storeTestSuite) Test_Aggregates() {
	sts.Run("empty store", func() {
		n, err := sts.store.NumRecords(sts.ctx, "weather")
		sts.Require().NoError(err)
		sts.Equal(int64(0), n)

		tr, err := sts.store.TimeRange(sts.ctx, "weather")
		sts.Require().NoError(err)
		sts.True(tr.IsEmpty())
	})

	sts.seed(10)

	sts.Run("counts and span", func() {
		n, err := sts.store.NumRecords(sts.ctx, "weather")
		sts.Require().NoError(err)
		sts.Equal(int64(10), n)

		tr, err := sts.store.TimeRange(sts.ctx, "weather")
		sts.Require().NoError(err)
		sts.Equal(esobs.TimeRange{From: 1600000000, To: 1600000009}, tr)

		producers, err := sts.store.ProducerIDs(sts.ctx, "weather")
		sts.Require().NoError(err)
		sts.Equal([]string{"urn:sensor:0", "urn:sensor:1", "urn:sensor:2"}, producers)
	})

	sts.Run("empty time range is rejected", func() {
		empty := esobs.TimeRange{From: math.NaN(), To: math.NaN()}
		f := esobs.Filter{RecordType: "weather", TimeRange: &empty}

		removed, err := sts.store.RemoveRecords(sts.ctx, f)
		sts.ErrorIs(err, esobs.ErrInvalidFilter)
		sts.Equal(int64(0), removed)

		_, err = sts.store.CountRecords(sts.ctx, f)
		sts.ErrorIs(err, esobs.ErrInvalidFilter)

		_, err = sts.store.Records(sts.ctx, f)
		sts.ErrorIs(err, esobs.ErrInvalidFilter)

		n, err := sts.store.NumRecords(sts.ctx, "weather")
		sts.Require().NoError(err)
		sts.Equal(int64(10), n)
	})

	sts.Run("remove by filter", func() {
		removed, err := sts.store.RemoveRecords(sts.ctx, esobs.Filter{RecordType: "weather", ProducerIDs: []string{"urn:sensor:0"}})
		sts.Require().NoError(err)
		sts.Equal(int64(4), removed)

		n, err := sts.store.NumRecords(sts.ctx, "weather")
		sts.Require().NoError(err)
		sts.Equal(int64(6), n)
	})
}

func (sts *storeTestSuite) Test_Descriptions() {
	for i, from := range []float64{100, 200, 300} {
		sts.Require().NoError(sts.store.AddDescription(sts.ctx, &esobs.Description{
			UniqueID:   "urn:sensor:1",
			Name:       fmt.Sprintf("Sensor v%d", i+1),
			ValidFrom:  from,
			Outputs:    []string{"weather"},
			Properties: map[string]string{"version": fmt.Sprint(i + 1)},
		}))
	}

	sts.Run("latest", func() {
		d, err := sts.store.LatestDescription(sts.ctx, "urn:sensor:1")
		sts.Require().NoError(err)
		sts.Equal("Sensor v3", d.Name)
		sts.Equal("3", d.Properties["version"])
	})

	sts.Run("at a time", func() {
		d, err := sts.store.DescriptionAt(sts.ctx, "urn:sensor:1", 250)
		sts.Require().NoError(err)
		sts.Equal("Sensor v2", d.Name)

		d, err = sts.store.DescriptionAt(sts.ctx, "urn:sensor:1", 200)
		sts.Require().NoError(err)
		sts.Equal("Sensor v2", d.Name)

		_, err = sts.store.DescriptionAt(sts.ctx, "urn:sensor:1", 50)
		sts.ErrorIs(err, esobs.ErrDescriptionNotFound)
	})

	sts.Run("history oldest first", func() {
		history, err := sts.store.DescriptionHistory(sts.ctx, "urn:sensor:1")
		sts.Require().NoError(err)
		sts.Require().Len(history, 3)
		sts.Equal(100.0, history[0].ValidFrom)
		sts.Equal(300.0, history[2].ValidFrom)

		none, err := sts.store.DescriptionHistory(sts.ctx, "urn:sensor:9")
		sts.Require().NoError(err)
		sts.Empty(none)
	})

	sts.Run("update", func() {
		err := sts.store.UpdateDescription(sts.ctx, &esobs.Description{UniqueID: "urn:sensor:1", ValidFrom: 150})
		sts.ErrorIs(err, esobs.ErrDescriptionNotFound)

		sts.Require().NoError(sts.store.UpdateDescription(sts.ctx, &esobs.Description{
			UniqueID: "urn:sensor:1", Name: "Sensor v2 fixed", ValidFrom: 200,
		}))
		d, err := sts.store.DescriptionAt(sts.ctx, "urn:sensor:1", 200)
		sts.Require().NoError(err)
		sts.Equal("Sensor v2 fixed", d.Name)
	})

	sts.Run("invalid", func() {
		sts.ErrorIs(sts.store.AddDescription(sts.ctx, &esobs.Description{}), esobs.ErrInvalidDescription)
		sts.ErrorIs(sts.store.AddDescription(sts.ctx, &esobs.Description{UniqueID: "x", ValidFrom: math.Inf(1)}), esobs.ErrInvalidDescription)
	})

	sts.Run("remove", func() {
		sts.Require().NoError(sts.store.RemoveDescription(sts.ctx, "urn:sensor:1", 300))
		sts.ErrorIs(sts.store.RemoveDescription(sts.ctx, "urn:sensor:1", 300), esobs.ErrDescriptionNotFound)

		d, err := sts.store.LatestDescription(sts.ctx, "urn:sensor:1")
		sts.Require().NoError(err)
		sts.Equal(200.0, d.ValidFrom)
	})

	sts.Run("remove history", func() {
		n, err := sts.store.RemoveDescriptionHistory(sts.ctx, "urn:sensor:1", esobs.AllTimes())
		sts.Require().NoError(err)
		sts.Equal(int64(2), n)

		_, err = sts.store.LatestDescription(sts.ctx, "urn:sensor:1")
		sts.ErrorIs(err, esobs.ErrDescriptionNotFound)
	})

	sts.Run("wildcards in unique ids are literal", func() {
		sts.Require().NoError(sts.store.AddDescription(sts.ctx, &esobs.Description{UniqueID: "urn:sensor:7", Name: "seven", ValidFrom: 10}))
		sts.Require().NoError(sts.store.AddDescription(sts.ctx, &esobs.Description{UniqueID: "urn:sensor:*", Name: "star", ValidFrom: 5}))

		history, err := sts.store.DescriptionHistory(sts.ctx, "urn:sensor:*")
		sts.Require().NoError(err)
		sts.Require().Len(history, 1)
		sts.Equal("star", history[0].Name)

		d, err := sts.store.LatestDescription(sts.ctx, "urn:sensor:?")
		sts.ErrorIs(err, esobs.ErrDescriptionNotFound)
		sts.Nil(d)

		n, err := sts.store.RemoveDescriptionHistory(sts.ctx, "urn:sensor:*", esobs.AllTimes())
		sts.Require().NoError(err)
		sts.Equal(int64(1), n)

		d, err = sts.store.LatestDescription(sts.ctx, "urn:sensor:7")
		sts.Require().NoError(err)
		sts.Equal("seven", d.Name)
	})

	sts.Run("remove history with empty range", func() {
		_, err := sts.store.RemoveDescriptionHistory(sts.ctx, "urn:sensor:7", esobs.TimeRange{From: math.NaN(), To: math.NaN()})
		sts.ErrorIs(err, esobs.ErrInvalidFilter)

		_, err = sts.store.LatestDescription(sts.ctx, "urn:sensor:7")
		sts.NoError(err)
	})

	sts.Run("descriptions are not record stores", func() {
		sts.Require().NoError(sts.store.AddDescription(sts.ctx, &esobs.Description{UniqueID: "urn:sensor:2", ValidFrom: 1}))

		other, err := esobs.New(sts.backend, esobs.Config{IndexPrefix: "test"})
		sts.Require().NoError(err)
		sts.Require().NoError(other.Open(sts.ctx))

		stores, err := other.RecordStores(sts.ctx)
		sts.Require().NoError(err)
		sts.Len(stores, 1)
	})
}

func TestStore(t *testing.T) {
	suite.Run(t, &storeTestSuite{})
}

func TestStore_FetchFaults(t *testing.T) {
	ctx := context.Background()

	open := func(t *testing.T, cfg esobs.Config) (*esobs.Store, *prometheus.Registry) {
		t.Helper()

		reg := prometheus.NewRegistry()
		cfg.Registerer = reg

		s, err := esobs.New(&faultyBackend{Store: memstore.New()}, cfg)
		require.NoError(t, err)
		require.NoError(t, s.Open(ctx))

		_, err = s.AddRecordStore(ctx, "weather", weatherStructure(), schema.JSONEncoding())
		require.NoError(t, err)

		for i := 0; i < 10; i++ {
			require.NoError(t, s.StoreRecord(ctx, weatherKey(i), weatherData(i)))
		}

		return s, reg
	}

	t.Run("iteration fails closed by default", func(t *testing.T) {
		s, reg := open(t, esobs.Config{})

		it, err := s.Records(ctx, esobs.Filter{RecordType: "weather", PageSize: 4})
		require.NoError(t, err)
		defer it.Close()

		var n int
		for it.HasNext() {
			_, err := it.Next()
			require.NoError(t, err)
			n++
		}

		assert.Equal(t, 4, n)
		assert.ErrorIs(t, it.Err(), errBoom)

		_, err = it.Next()
		assert.ErrorIs(t, err, esobs.ErrExhausted)

		assert.Equal(t, 1.0, counterValue(t, reg, "esobs_scroll_fetch_errors_total"))
		assert.Equal(t, 1.0, counterValue(t, reg, "esobs_scroll_pages_total"))
		assert.Equal(t, 4.0, counterValue(t, reg, "esobs_scroll_hits_total"))
	})

	t.Run("propagating iteration", func(t *testing.T) {
		s, _ := open(t, esobs.Config{PropagateFaults: true})

		it, err := s.Records(ctx, esobs.Filter{RecordType: "weather", PageSize: 4})
		require.NoError(t, err)
		defer it.Close()

		for i := 0; i < 4; i++ {
			_, err := it.Next()
			require.NoError(t, err)
		}

		_, err = it.Next()
		assert.ErrorIs(t, err, errBoom)
	})

	t.Run("scan returns the fault", func(t *testing.T) {
		s, _ := open(t, esobs.Config{})

		var n int
		err := s.ScanRecords(ctx, esobs.Filter{RecordType: "weather", PageSize: 4}, func(r *esobs.Record) error {
			n++
			return nil
		})

		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 4, n)
	})

	t.Run("write metrics", func(t *testing.T) {
		_, reg := open(t, esobs.Config{})
		assert.Equal(t, 10.0, counterValue(t, reg, "esobs_records_writes_total"))
	})
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	var sum float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("not open", func(t *testing.T) {
		s, err := esobs.New(memstore.New(), esobs.Config{})
		require.NoError(t, err)

		_, err = s.RecordStores(ctx)
		assert.ErrorIs(t, err, esobs.ErrStoreNotOpen)
		assert.ErrorIs(t, s.StoreRecord(ctx, weatherKey(0), weatherData(0)), esobs.ErrStoreNotOpen)
		assert.ErrorIs(t, s.Commit(ctx), esobs.ErrStoreNotOpen)
	})

	t.Run("unsupported operations", func(t *testing.T) {
		s, err := esobs.New(memstore.New(), esobs.Config{})
		require.NoError(t, err)
		require.NoError(t, s.Open(ctx))

		assert.ErrorIs(t, s.Rollback(ctx), esobs.ErrUnsupported)
		assert.ErrorIs(t, s.Backup(ctx), esobs.ErrUnsupported)
		assert.ErrorIs(t, s.Restore(ctx), esobs.ErrUnsupported)
		assert.NoError(t, s.Commit(ctx))
	})

	t.Run("closed", func(t *testing.T) {
		s, err := esobs.New(memstore.New(), esobs.Config{})
		require.NoError(t, err)
		require.NoError(t, s.Open(ctx))
		require.NoError(t, s.Close(ctx))
		require.NoError(t, s.Close(ctx))

		_, err = s.RecordStore(ctx, "weather")
		assert.ErrorIs(t, err, esobs.ErrStoreNotOpen)
	})

	t.Run("tiny descriptor cache reloads from metadata", func(t *testing.T) {
		s, err := esobs.New(memstore.New(), esobs.Config{DescriptorCacheSize: 1})
		require.NoError(t, err)
		require.NoError(t, s.Open(ctx))

		for _, name := range []string{"weather", "rain", "wind"} {
			_, err := s.AddRecordStore(ctx, name, weatherStructure(), schema.JSONEncoding())
			require.NoError(t, err)
		}

		for i, name := range []string{"weather", "rain", "wind", "weather"} {
			key := weatherKey(i)
			key.RecordType = name
			require.NoError(t, s.StoreRecord(ctx, key, weatherData(i)))

			r, err := s.GetRecord(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, key, r.Key)
		}

		stores, err := s.RecordStores(ctx)
		require.NoError(t, err)
		assert.Len(t, stores, 3)
	})
}
