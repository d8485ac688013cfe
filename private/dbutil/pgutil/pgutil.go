// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package pgutil contains postgres-specific error and identifier helpers.
package pgutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"carewire.io/carewire/private/tagsql"
)

// IsConstraintError checks if given error is about constraint violation.
func IsConstraintError(err error) bool {
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) {
		return strings.HasPrefix(pgerr.Code, "23")
	}
	return false
}

// IsUniqueViolation checks if given error is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) {
		return pgerr.Code == "23505"
	}
	return false
}

// QuoteIdentifier quotes an identifier for use in an interpolated SQL string.
func QuoteIdentifier(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// CheckApplicationName ensures that the connection string contains an
// application name.
func CheckApplicationName(s string, app string) string {
	if strings.Contains(s, "application_name") {
		return s
	}
	if !strings.Contains(s, "?") {
		return s + "?application_name=" + app
	}
	return s + "&application_name=" + app
}

// ConnstrWithSchema adds a schema to a connection string.
func ConnstrWithSchema(connstr, schema string) string {
	options := url.QueryEscape("--search_path=" + QuoteIdentifier(schema))
	if strings.Contains(connstr, "?") {
		return connstr + "&options=" + options
	}
	return connstr + "?options=" + options
}

// CreateRandomTestingSchemaName returns a random schema name with n bytes of
// entropy.
func CreateRandomTestingSchemaName(n int) string {
	data := make([]byte, n)
	_, _ = rand.Read(data)
	return hex.EncodeToString(data)
}

// CreateSchema creates a schema if it doesn't exist.
func CreateSchema(ctx context.Context, db tagsql.DB, schema string) error {
	_, err := db.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+QuoteIdentifier(schema))
	return err
}

// DropSchema drops the schema and everything in it.
func DropSchema(ctx context.Context, db tagsql.DB, schema string) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS `+QuoteIdentifier(schema)+` CASCADE`)
	return err
}
