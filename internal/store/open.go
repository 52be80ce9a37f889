// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/autobrr/tempo/internal/domain"
)

const (
	EngineMemory = "memory"
	EngineFile   = "file"
	EngineSQLite = "sqlite"
	EngineBadger = "badger"
	EngineRedis  = "redis"
)

type OpenOptions struct {
	Engine     string
	Dir        string
	SQLitePath string
	Redis      RedisConfig
}

// Open returns the backend selected by opts.Engine. An empty engine means file.
func Open(opts OpenOptions) (Store, error) {
	engine := strings.TrimSpace(strings.ToLower(opts.Engine))
	if engine == "" {
		engine = EngineFile
	}

	switch engine {
	case EngineMemory:
		return NewMemory(), nil
	case EngineFile:
		return NewFile(opts.Dir)
	case EngineSQLite:
		path := strings.TrimSpace(opts.SQLitePath)
		if path == "" && opts.Dir != "" {
			path = filepath.Join(opts.Dir, "tempo.db")
		}
		return NewSQLite(path)
	case EngineBadger:
		if opts.Dir == "" {
			return nil, errors.New("store: badger requires a data directory")
		}
		return NewBadger(filepath.Join(opts.Dir, "badger"))
	case EngineRedis:
		if strings.TrimSpace(opts.Redis.Addr) == "" {
			return nil, errors.New("store: redis address is required")
		}
		return NewRedis(opts.Redis)
	default:
		return nil, fmt.Errorf("store: unsupported engine %q", opts.Engine)
	}
}

// OpenFromConfig maps the store section of the application config onto Open.
func OpenFromConfig(cfg *domain.Config) (Store, error) {
	if cfg == nil {
		return nil, errors.New("store: nil config")
	}

	dir := cfg.Store.Dir
	if dir == "" {
		dir = cfg.DataDir
	}

	return Open(OpenOptions{
		Engine:     cfg.Store.Engine,
		Dir:        dir,
		SQLitePath: cfg.Store.SQLitePath,
		Redis: RedisConfig{
			Addr:      cfg.Store.RedisAddr,
			Password:  cfg.Store.RedisPassword,
			DB:        cfg.Store.RedisDB,
			KeyPrefix: cfg.Store.RedisKeyPrefix,
		},
	})
}
