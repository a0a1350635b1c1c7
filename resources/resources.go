package resources

import "embed"

//go:embed migrations rules.yml prompts
var FS embed.FS
