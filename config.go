package esobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	defaultIndexPrefix          = "esobs"
	defaultScrollPageSize       = 1000
	defaultDescriptorCacheSize  = 256
	defaultDescriptorCacheShard = 4
)

var defaultScrollKeepAlive = 1 * time.Minute

type Config struct {
	// IndexPrefix is prepended to every index the store creates.
	IndexPrefix string
	// MetadataIndex holds record store descriptors and data source
	// descriptions. Defaults to <IndexPrefix>_meta.
	MetadataIndex string

	ScrollPageSize  int
	ScrollKeepAlive time.Duration

	DescriptorCacheSize   int
	DescriptorCacheShards int

	// PropagateFaults makes record iterators return fetch failures from
	// Next instead of ending quietly. Err reports them either way.
	PropagateFaults bool

	Logger     *zerolog.Logger
	Registerer prometheus.Registerer
}

func (cfg *Config) applyDefaults() {
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = defaultIndexPrefix
	}

	if cfg.MetadataIndex == "" {
		cfg.MetadataIndex = cfg.IndexPrefix + "_meta"
	}

	if cfg.ScrollPageSize <= 0 {
		cfg.ScrollPageSize = defaultScrollPageSize
	}

	if cfg.ScrollKeepAlive <= 0 {
		cfg.ScrollKeepAlive = defaultScrollKeepAlive
	}

	if cfg.DescriptorCacheSize <= 0 {
		cfg.DescriptorCacheSize = defaultDescriptorCacheSize
	}

	if cfg.DescriptorCacheShards <= 0 {
		cfg.DescriptorCacheShards = defaultDescriptorCacheShard
	}

	if cfg.DescriptorCacheShards > cfg.DescriptorCacheSize {
		cfg.DescriptorCacheShards = 1
	}
}
