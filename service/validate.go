package service

import (
	"net/url"
	"regexp"
)

var deckHosts = map[string]bool{
	"pitch.com":     true,
	"app.pitch.com": true,
	"www.pitch.com": true,
}

var deckPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^/v/[^/]+`),                                 // classic: /v/presentation-name
	regexp.MustCompile(`^/public/[a-f0-9-]+/[a-f0-9-]+`),            // public: /public/uuid/uuid
	regexp.MustCompile(`^/app/public/player/[a-f0-9-]+/[a-f0-9-]+`), // player: /app/public/player/uuid/uuid
}

// ValidTarget reports whether rawURL is a supported presentation locator.
func ValidTarget(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !deckHosts[u.Host] {
		return false
	}
	for _, re := range deckPathPatterns {
		if re.MatchString(u.Path) {
			return true
		}
	}
	return false
}
