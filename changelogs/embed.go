// Package changelogs embeds the bundled changelog files so the binary can
// run them with --embedded.
package changelogs

import "embed"

//go:embed *.yaml
var FS embed.FS
