package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// Resolver maps marketplace listing ids to on-chain property ids. Listings
// without an explicit mapping fall back to the default property id, if any.
type Resolver struct {
	mapping         map[int64]string
	defaultProperty string
}

// NewResolver builds a resolver from a static mapping.
func NewResolver(mapping map[int64]string, defaultProperty string) *Resolver {
	m := make(map[int64]string, len(mapping))
	for k, v := range mapping {
		m[k] = v
	}
	return &Resolver{mapping: m, defaultProperty: defaultProperty}
}

// ParseListingMap parses "10=villa-alpha,12=loft-beta".
func ParseListingMap(spec string) (map[int64]string, error) {
	out := make(map[int64]string)
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return out, nil
	}
	for _, pair := range strings.Split(spec, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("invalid listing mapping %q: expected LISTING=PROPERTY", pair)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid listing id %q: %w", key, err)
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return nil, fmt.Errorf("listing %d maps to an empty property id", id)
		}
		out[id] = value
	}
	return out, nil
}

// Resolve returns the property id for a listing, or false when neither a
// mapping nor a default exists.
func (r *Resolver) Resolve(listingID int64) (string, bool) {
	if id, ok := r.mapping[listingID]; ok {
		return id, true
	}
	if r.defaultProperty != "" {
		return r.defaultProperty, true
	}
	return "", false
}
