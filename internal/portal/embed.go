// ABOUTME: Embeds HTML templates and help content into the binary using go:embed.
// ABOUTME: Provides templateFS for loading templates at runtime.

package portal

import "embed"

//go:embed templates/*.html templates/help.md
var templateFS embed.FS
