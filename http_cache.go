package resilix

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CacheDirectives represents the parsed Cache-Control directives the client
// acts on.
type CacheDirectives struct {
	NoStore bool
	NoCache bool
	MaxAge  *time.Duration
}

// parseCacheControl parses a Cache-Control header into structured
// directives. Unknown directives are ignored.
func parseCacheControl(header string) *CacheDirectives {
	directives := &CacheDirectives{}
	if header == "" {
		return directives
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "=") {
			kv := strings.SplitN(part, "=", 2)
			if len(kv) != 2 {
				continue
			}
			key := strings.TrimSpace(kv[0])
			value := strings.Trim(strings.TrimSpace(kv[1]), "\"")

			if key == "max-age" {
				if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
					maxAge := time.Duration(seconds) * time.Second
					directives.MaxAge = &maxAge
				}
			}
		} else {
			switch part {
			case "no-store":
				directives.NoStore = true
			case "no-cache":
				directives.NoCache = true
			}
		}
	}

	return directives
}

// parseExpires parses an Expires header in any of the three HTTP date
// formats.
func parseExpires(header string) *time.Time {
	if header == "" {
		return nil
	}

	for _, layout := range []string{time.RFC1123, time.RFC850, time.ANSIC} {
		if t, err := time.Parse(layout, header); err == nil {
			return &t
		}
	}
	return nil
}

// headerTTL derives a cache TTL from response headers: Cache-Control max-age
// wins over Expires. Returns false when the response forbids caching or
// carries no usable freshness information.
func headerTTL(header http.Header, receivedAt time.Time) (time.Duration, bool) {
	directives := parseCacheControl(header.Get("Cache-Control"))

	if directives.NoStore || directives.NoCache {
		return 0, false
	}

	if directives.MaxAge != nil {
		if *directives.MaxAge <= 0 {
			return 0, false
		}
		return *directives.MaxAge, true
	}

	if expires := parseExpires(header.Get("Expires")); expires != nil {
		ttl := expires.Sub(receivedAt)
		if ttl <= 0 {
			return 0, false
		}
		return ttl, true
	}

	return 0, false
}
