// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package testredis implements a redis server for testing.
package testredis

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/zeebo/errs"
)

// RedisServer is a redis server for tests.
type RedisServer interface {
	// Addr returns host:port of the server.
	Addr() string
	// FastForward advances the server clock, expiring keys with TTLs.
	FastForward(d time.Duration)
	// Close shuts the server down.
	Close() error
}

// Start starts an in-process redis server.
func Start(ctx context.Context) (RedisServer, error) {
	server, err := miniredis.Run()
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &miniserver{server: server}, nil
}

type miniserver struct {
	server *miniredis.Miniredis
}

func (s *miniserver) Addr() string { return s.server.Addr() }

func (s *miniserver) FastForward(d time.Duration) { s.server.FastForward(d) }

func (s *miniserver) Close() error {
	s.server.Close()
	return nil
}
