// Package db provides the embedded database migrations.
package db

import "embed"

// Migrations holds the versioned golang-migrate files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the SQL files.
const MigrationsDir = "migrations"
