package db

import (
	"context"
	"fmt"
)

// Store names accepted by Open
const (
	StoreSQLite   = "sqlite"
	StoreBolt     = "bolt"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreNone     = "none"
)

type Options struct {
	Store       string
	SQLitePath  string
	BoltPath    string
	RedisAddr   string
	RedisPrefix string
	DatabaseURL string
}

// Open builds the gateway selected by opts.Store. StoreNone yields a nil
// gateway, which disables persistence.
func Open(ctx context.Context, opts Options) (Gateway, error) {
	var (
		gw  Gateway
		err error
	)
	switch opts.Store {
	case StoreSQLite, "":
		gw, err = New(opts.SQLitePath)
	case StoreBolt:
		gw, err = OpenBolt(opts.BoltPath)
	case StoreRedis:
		gw, err = OpenRedis(ctx, opts.RedisAddr, opts.RedisPrefix)
	case StorePostgres:
		gw, err = OpenPostgres(ctx, opts.DatabaseURL)
	case StoreNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store %q", opts.Store)
	}
	// Keep a failed open from leaking a typed nil into the interface
	if err != nil {
		return nil, err
	}
	return gw, nil
}
