// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package pgtest holds the flag for the postgres test database.
//
// We need to define this in a separate package due to https://golang.org/issue/23910.
package pgtest

import (
	"flag"
	"os"
)

// ConnStr is the test database connection string. When empty, tests that need
// a real postgres server are skipped and sqlite is used instead.
var ConnStr = flag.String("postgres-test-db", os.Getenv("CAREWIRE_POSTGRES_TEST"), "PostgreSQL test database connection string")
