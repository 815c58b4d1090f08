package output

import (
	"fmt"
	"strings"

	"golang.org/x/term"
)

// FeatureDisplay is the minimal feature shape the banner renders; it
// deliberately doesn't import internal/overlay so this package stays a
// pure renderer with no knowledge of how features get produced.
type FeatureDisplay struct {
	Name    string
	Version *string
	// VersionLooksOdd marks a declared version that doesn't parse as
	// semver; advisory only, shown as a hint and never a failure.
	VersionLooksOdd bool
}

var wordmarkGradient = []string{
	"\x1b[38;5;63m",  // blue
	"\x1b[38;5;99m",  // blue-violet
	"\x1b[38;5;135m", // violet
	"\x1b[38;5;171m", // magenta
	"\x1b[38;5;207m", // pink
}

const ansiReset = "\x1b[0m"

// ShouldShowBanner reports whether the activation banner should be
// printed: stderr must be a terminal, and SHADOWENV_SILENT must not be
// truthy (spec §4.H, §6 "Activation banner").
func ShouldShowBanner(stderrFd uintptr, silentEnv string) bool {
	if isTruthy(silentEnv) {
		return false
	}
	return term.IsTerminal(int(stderrFd))
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

// RenderBanner produces the gradient wordmark and feature list printed to
// stderr on activation. An empty feature list still prints the wordmark
// (spec §9 open question: current behavior prints only a wordmark).
func RenderBanner(features []FeatureDisplay) string {
	var sb strings.Builder
	sb.WriteString(gradientWordmark("shadowenv"))
	sb.WriteString(ansiReset)
	sb.WriteString(" activated")
	if len(features) > 0 {
		sb.WriteString(": ")
		sb.WriteString(featureList(features))
	}
	sb.WriteString("\n")
	return sb.String()
}

func gradientWordmark(word string) string {
	var sb strings.Builder
	for i, r := range word {
		color := wordmarkGradient[i%len(wordmarkGradient)]
		sb.WriteString(color)
		sb.WriteRune(r)
	}
	return sb.String()
}

func featureList(features []FeatureDisplay) string {
	parts := make([]string, len(features))
	for i, f := range features {
		switch {
		case f.Version != nil && f.VersionLooksOdd:
			parts[i] = fmt.Sprintf("%s@%s (non-semver)", f.Name, *f.Version)
		case f.Version != nil:
			parts[i] = fmt.Sprintf("%s@%s", f.Name, *f.Version)
		default:
			parts[i] = f.Name
		}
	}
	return strings.Join(parts, ", ")
}
