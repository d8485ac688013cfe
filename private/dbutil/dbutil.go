// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package dbutil contains helpers shared by the engine database code,
// independent of which sql implementation backs it.
package dbutil

import (
	"context"
	"strconv"
	"time"

	"github.com/spacemonkeygo/monkit/v3"

	"carewire.io/carewire/private/tagsql"
)

const (
	defaultMaxIdleConns    = 20
	defaultMaxOpenConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
)

// Configure sets connection boundaries and adds db_stats monitoring to monkit.
func Configure(ctx context.Context, db tagsql.DB, dbName string, mon *monkit.Scope) {
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	mon.Chain(monkit.StatSourceFunc(
		func(cb func(key monkit.SeriesKey, field string, val float64)) {
			monkit.StatSourceFromStruct(
				monkit.NewSeriesKey("db_stats").WithTag("db_name", dbName),
				db.Stats(),
			).Stats(cb)
		}))
}

// Rebind converts query placeholders to the form the implementation expects.
// Queries are written with `?` placeholders; for postgres they are rewritten
// to the positional `$N` form. Placeholders inside quoted literals are left
// alone.
func Rebind(impl Implementation, query string) string {
	if impl != Postgres {
		return query
	}

	type sqlParseState int
	const (
		sqlParseStart sqlParseState = iota
		sqlParseInStringLiteral
		sqlParseInQuotedIdentifier
		sqlParseInComment
	)

	out := make([]byte, 0, len(query)+10)

	state := sqlParseStart
	ordinal := 1
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch state {
		case sqlParseStart:
			switch ch {
			case '?':
				out = append(out, '$')
				out = append(out, strconv.Itoa(ordinal)...)
				ordinal++
				continue
			case '\'':
				state = sqlParseInStringLiteral
			case '"':
				state = sqlParseInQuotedIdentifier
			case '-':
				if i+1 < len(query) && query[i+1] == '-' {
					state = sqlParseInComment
				}
			}
		case sqlParseInStringLiteral:
			if ch == '\'' {
				state = sqlParseStart
			}
		case sqlParseInQuotedIdentifier:
			if ch == '"' {
				state = sqlParseStart
			}
		case sqlParseInComment:
			if ch == '\n' {
				state = sqlParseStart
			}
		}
		out = append(out, ch)
	}

	return string(out)
}
