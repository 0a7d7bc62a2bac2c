// KEYS requests filter the cache's key listing with Redis style glob patterns.

package scan

import (
	"fmt"
	"iter"

	"v.io/v23/glob"
)

// MatchKeys lazily filters `keys` down to those matching the glob `pattern`, preserving their order.
func MatchKeys(pattern string, keys iter.Seq[string]) (iter.Seq[string], error) {
	parsed, err := glob.Parse(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}
	// Cache keys are flat, so only the first path element of the pattern is ever relevant.
	matcher := parsed.Head()
	return func(yield func(string) bool) {
		for key := range keys {
			if matcher.Match(key) && !yield(key) {
				return
			}
		}
	}, nil
}
