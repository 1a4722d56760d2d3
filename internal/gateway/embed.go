// ABOUTME: Embeds the conversation page template into the binary using go:embed
// ABOUTME: Provides templateFS for loading templates at runtime

package gateway

import "embed"

//go:embed templates/*.html
var templateFS embed.FS
