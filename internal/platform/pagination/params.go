package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the client omits page_size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps page_size to keep list queries bounded.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Params is the page request extracted from a query string.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options bound page sizes for one endpoint.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) limits() (def, max int) {
	max = o.MaxPageSize
	if max <= 0 {
		max = DefaultMaxPageSize
	}
	def = o.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	if def > max {
		def = max
	}
	return def, max
}

// FromRequest parses page_size and page_token from r. The camelCase spellings are
// accepted for older storefront builds.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads page parameters from values.
func Parse(values url.Values, opts Options) (Params, error) {
	def, max := opts.limits()
	params := Params{PageSize: def}

	if raw := firstValue(values, "page_size", "pageSize"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if size <= 0 {
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		params.PageSize = min(size, max)
	}

	if raw := firstValue(values, "page_token", "pageToken"); raw != "" {
		cursor, err := DecodeToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = raw
		params.Cursor = cursor
	}
	return params, nil
}

// ClampPageSize applies the package defaults to a size chosen outside HTTP parsing.
func ClampPageSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	return min(size, DefaultMaxPageSize)
}

func firstValue(values url.Values, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(values.Get(key)); v != "" {
			return v
		}
	}
	return ""
}
