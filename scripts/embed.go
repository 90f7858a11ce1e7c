// Package scripts embeds the sample policy hooks that `graft init` installs
// into a project's .graft/hooks directory.
package scripts

import "embed"

// Hooks holds hooks/*.risor.
//
//go:embed hooks/*.risor
var Hooks embed.FS
