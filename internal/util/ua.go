package util

import "strings"

// ParseDeviceType performs a best-effort device classification based on UA fragments.
func ParseDeviceType(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad"):
		return "tablet"
	case strings.Contains(ua, "android") && !strings.Contains(ua, "mobile"):
		return "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone"):
		return "mobile"
	default:
		return "desktop"
	}
}

// ParseBrowser extracts a coarse browser name from the User-Agent string.
// Edge and Opera advertise Chrome too, so they are matched first.
func ParseBrowser(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge"):
		return "edge"
	case strings.Contains(ua, "opera") || strings.Contains(ua, "opr/"):
		return "opera"
	case strings.Contains(ua, "firefox") || strings.Contains(ua, "fxios"):
		return "firefox"
	case strings.Contains(ua, "chrome") || strings.Contains(ua, "crios"):
		return "chrome"
	case strings.Contains(ua, "safari"):
		return "safari"
	default:
		return "unknown"
	}
}

// ParseOS infers the operating system family from UA fragments.
func ParseOS(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case strings.Contains(ua, "windows"):
		return "windows"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ipod"):
		return "ios"
	case strings.Contains(ua, "mac os") || strings.Contains(ua, "macos") || strings.Contains(ua, "darwin"):
		return "macos"
	case strings.Contains(ua, "android"):
		return "android"
	case strings.Contains(ua, "linux"):
		return "linux"
	default:
		return "unknown"
	}
}

// ContainsAnyFold reports whether s contains any of the fragments, ignoring case.
// Blank fragments are skipped.
func ContainsAnyFold(s string, fragments []string) (string, bool) {
	if s == "" {
		return "", false
	}
	lower := strings.ToLower(s)
	for _, fragment := range fragments {
		fragment = strings.ToLower(strings.TrimSpace(fragment))
		if fragment == "" {
			continue
		}
		if strings.Contains(lower, fragment) {
			return fragment, true
		}
	}
	return "", false
}

// FirstNonEmpty returns the first non-blank value.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
