// Package db embeds the PostgreSQL schema applied at startup.
package db

import _ "embed"

// Schema creates the users, categories, coupons and id_sequences tables.
// Every statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
