// ABOUTME: Product identity reported by the API root and the CLI banner
// ABOUTME: Version and Tag are overridden at build time via -ldflags

package about

const (
	// Title names the product and namespaces its environment variables.
	Title  = "WorldGPT"
	Author = "rich"
	Email  = "rich@pyrge.games"

	License   = "CC BY-NC-ND 4.0 https://creativecommons.org/licenses/by-nc-nd/4.0/legalcode"
	Copyright = "Copyright 2023, Rich@pyrge.games"
)

// Set by goreleaser at build time.
var (
	Version = "dev"
	Tag     = "untagged"
)
