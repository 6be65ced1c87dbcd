// Package appfs embeds the files the binaries need at runtime: SQL migrations, email templates and
// the default course taxonomy.
package appfs

import "embed"

//go:embed migrations assets
var FS embed.FS
