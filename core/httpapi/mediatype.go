package httpapi

import "strings"

const (
	taxiiMediaFamily = "application/vnd.oasis.taxii+json"
	stixMediaFamily  = "application/vnd.oasis.stix+json"
)

// acceptsFamily reports whether the Accept header lists the given media
// family (ignoring any ";version=..." parameter and accepting "*/*").
func acceptsFamily(accept, family string) bool {
	if accept == "" {
		return true
	}
	for _, part := range strings.Split(accept, ",") {
		part = strings.TrimSpace(part)
		if part == "*/*" || part == "application/*" {
			return true
		}
		mediaType := part
		if idx := strings.Index(part, ";"); idx >= 0 {
			mediaType = strings.TrimSpace(part[:idx])
		}
		if mediaType == family {
			return true
		}
	}
	return false
}

// responseContentType renders family with the fixed "version=2.1" parameter
// this server speaks.
func responseContentType(family string) string {
	return family + ";version=2.1"
}
