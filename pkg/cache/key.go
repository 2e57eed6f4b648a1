package cache

import (
	"strconv"
	"strings"
)

// KeyPrefix namespaces every key written by the cache.
const KeyPrefix = "listing"

// PageKey identifies one page of one window query.
type PageKey struct {
	// Operation is the GraphQL operation name
	Operation string

	// GTE and LTE are the formatted window bounds as sent to the API
	GTE string
	LTE string

	// PageSize is part of the key since it changes page boundaries
	PageSize int

	// Page is the 1-based page number
	Page int
}

// String generates a deterministic cache key string.
// Format: listing:operation:gte:lte:size:page
//
// Example:
//
//	listing:GET_EVENT_LISTINGS:2020-01-01:2020-01-31:100:3
func (k PageKey) String() string {
	parts := []string{KeyPrefix}
	if k.Operation != "" {
		parts = append(parts, k.Operation)
	}
	parts = append(parts,
		k.GTE,
		k.LTE,
		strconv.Itoa(k.PageSize),
		strconv.Itoa(k.Page),
	)
	return strings.Join(parts, ":")
}
