package migrations

import "embed"

// Files exposes every SQL migration shipped with the binary.
//
//go:embed *.sql
var Files embed.FS
