package main

import (
	"os"
	"time"

	"github.com/denismitr/esobs"
	"github.com/denismitr/esobs/internal/docstore/elastic"
	"github.com/naoina/toml"
	"github.com/pkg/errors"
)

type elasticConfig struct {
	Addresses []string `toml:"addresses"`
	Username  string   `toml:"username"`
	Password  string   `toml:"password"`
	APIKey    string   `toml:"api_key"`
	CloudID   string   `toml:"cloud_id"`
	Bulk      bool     `toml:"bulk"`
}

type storeConfig struct {
	IndexPrefix     string `toml:"index_prefix"`
	MetadataIndex   string `toml:"metadata_index"`
	ScrollPageSize  int    `toml:"scroll_page_size"`
	ScrollKeepAlive string `toml:"scroll_keep_alive"`
}

type logConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

type fileConfig struct {
	Elastic elasticConfig `toml:"elastic"`
	Store   storeConfig   `toml:"store"`
	Log     logConfig     `toml:"log"`
}

func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read config %s", path)
	}

	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "could not parse config %s", path)
	}

	return cfg, nil
}

func (fc *fileConfig) storeConfig() (esobs.Config, error) {
	cfg := esobs.Config{
		IndexPrefix:    fc.Store.IndexPrefix,
		MetadataIndex:  fc.Store.MetadataIndex,
		ScrollPageSize: fc.Store.ScrollPageSize,
	}

	if fc.Store.ScrollKeepAlive != "" {
		d, err := time.ParseDuration(fc.Store.ScrollKeepAlive)
		if err != nil {
			return cfg, errors.Wrap(err, "invalid scroll_keep_alive")
		}
		cfg.ScrollKeepAlive = d
	}

	return cfg, nil
}

func (fc *fileConfig) elasticConfig() elastic.Config {
	return elastic.Config{
		Addresses: fc.Elastic.Addresses,
		Username:  fc.Elastic.Username,
		Password:  fc.Elastic.Password,
		APIKey:    fc.Elastic.APIKey,
		CloudID:   fc.Elastic.CloudID,
		Bulk:      fc.Elastic.Bulk,
	}
}
