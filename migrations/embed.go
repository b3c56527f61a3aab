// Package migrations holds the goose SQL migrations for the reservation schema.
package migrations

import "embed"

// FS contains every *.sql migration in this directory
//
//go:embed *.sql
var FS embed.FS

// Dir is the root passed to goose when reading from FS
const Dir = "."
