package util

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewID returns a time-sortable identifier, optionally namespaced by prefix.
func NewID(prefix string) string {
	id := strings.ToLower(ulid.Make().String())
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
