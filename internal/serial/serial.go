// Package serial issues the human-readable sequential complaint ids
// (PREFIX-NN), distinct from the storage-assigned record id.
package serial

import (
	"fmt"
	"regexp"
	"strconv"
)

const DefaultPrefix = "AIRTECH"

var suffixPattern = regexp.MustCompile(`-(\d+)$`)

// Next returns the id following lastID, which should be the
// lexicographically greatest complaint id currently stored ("" when none).
// A missing or unparseable suffix starts the sequence at 1. The number is
// zero-padded to at least two digits.
func Next(prefix, lastID string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	n := 1
	if m := suffixPattern.FindStringSubmatch(lastID); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			n = v + 1
		}
	}
	return fmt.Sprintf("%s-%02d", prefix, n)
}
