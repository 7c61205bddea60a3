// Package seeds embeds the initial content of each collection.
package seeds

import "embed"

// FS holds one <collection>.yaml file per seeded collection. Each file is a
// list of records.
//
//go:embed *.yaml
var FS embed.FS
