// Package appfs embeds the application's static resources: goose migrations,
// email templates and validation assets.
package appfs

import "embed"

//go:embed migrations templates assets
var FS embed.FS
