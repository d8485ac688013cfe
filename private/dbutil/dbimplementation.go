// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package dbutil

import (
	"net/url"
	"strings"

	"github.com/zeebo/errs"
)

// Error is the default dbutil error class.
var Error = errs.Class("dbutil")

// Implementation type of valid DBs.
type Implementation int

const (
	// Unknown is an unknown db type.
	Unknown Implementation = iota
	// Postgres is a PostgreSQL db type.
	Postgres
	// SQLite is a SQLite3 db type.
	SQLite
)

// String returns the name of the implementation.
func (impl Implementation) String() string {
	switch impl {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite3"
	default:
		return "unknown"
	}
}

// ImplementationForScheme returns the Implementation that matches the given
// connection string scheme.
func ImplementationForScheme(scheme string) Implementation {
	switch scheme {
	case "postgres", "postgresql", "pgx":
		return Postgres
	case "sqlite", "sqlite3", "file":
		return SQLite
	default:
		return Unknown
	}
}

// SplitConnStr parses a connection string and returns the driver name and the
// source to hand to sql.Open along with the detected implementation.
func SplitConnStr(connstr string) (driver string, source string, impl Implementation, err error) {
	u, err := url.Parse(connstr)
	if err != nil {
		return "", "", Unknown, Error.New("invalid connection string %q: %v", connstr, err)
	}

	switch impl = ImplementationForScheme(u.Scheme); impl {
	case Postgres:
		// pgx registers its stdlib driver under "pgx" and accepts the
		// URL form directly.
		return "pgx", connstr, Postgres, nil
	case SQLite:
		source = strings.TrimPrefix(connstr, "sqlite3://")
		source = strings.TrimPrefix(source, "sqlite://")
		return "sqlite3", source, SQLite, nil
	default:
		return "", "", Unknown, Error.New("unsupported database scheme %q in %q", u.Scheme, connstr)
	}
}
