// Package migrations embeds the goose SQL migrations for the combo rule and
// package tables.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
