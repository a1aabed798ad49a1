package db

import "embed"

// Migrations holds the schema for every supported dialect.
//
//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var Migrations embed.FS
