// Package migrations embeds the MySQL schema applied by the migrate command.
package migrations

import _ "embed"

//go:embed 001_init.sql
var Init string
