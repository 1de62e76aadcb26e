package observability

import (
	"net/url"
	"strings"
	"unicode"
)

const defaultStringLimit = 256

// sanitizeString trims unwanted characters and limits string length to avoid log injection.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}

	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		cleaned = append(cleaned, r)
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return string(cleaned)
}

// SanitizeRoute removes control characters and enforces length constraints on routes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod removes control characters in HTTP methods.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

var sensitiveQueryKeys = map[string]struct{}{
	"token":        {},
	"access_token": {},
	"secret":       {},
	"key":          {},
	"signature":    {},
	"password":     {},
	"trxref":       {},
}

// SanitizeURL drops credentials and masks secret-bearing query parameters before a URL is logged.
func SanitizeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return sanitizeString(raw, 180)
	}
	u.User = nil
	if u.RawQuery != "" {
		query := u.Query()
		for key := range query {
			if _, ok := sensitiveQueryKeys[strings.ToLower(key)]; ok {
				query.Set(key, "REDACTED")
			}
		}
		u.RawQuery = query.Encode()
	}
	return sanitizeString(u.String(), 512)
}
