// Keys are caller supplied strings; they are recorded verbatim in the journal and mapped to file names inside the
// cache directory. Short lowercase keys keep their own name so the directory stays readable; everything else is
// reduced to a safe prefix plus a 64-bit xxhash of the full key.

package cache

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/nobletooth/kache/pkg/journal"
)

const (
	maxKeyLength        = 512
	maxFileNamePrefix   = 32
	stagingSuffix       = ".tmp"
	hashedNameSeparator = "-"
)

// verbatimKeyPattern never matches a dash nor a dot, so verbatim names can't collide with hashed or staging names.
var verbatimKeyPattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// reservedFileNames can't be handed out to keys.
var reservedFileNames = []string{journal.FileName, journal.TmpFileName, journal.BackupFileName}

// validateKey makes sure the key fits in a single journal token.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("%w: key is %d bytes, at most %d allowed", ErrInvalidKey, len(key), maxKeyLength)
	}
	if strings.IndexFunc(key, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return fmt.Errorf("%w: key %q contains whitespace or control characters", ErrInvalidKey, key)
	}
	return nil
}

// fileNameForKey maps a valid key to the name of its committed file.
func fileNameForKey(key string) string {
	if verbatimKeyPattern.MatchString(key) && !slices.Contains(reservedFileNames, key) {
		return key
	}
	prefix := strings.Builder{}
	for _, r := range strings.ToLower(key) {
		if prefix.Len() >= maxFileNamePrefix {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			prefix.WriteRune(r)
		}
	}
	return fmt.Sprintf("%s%s%016x", prefix.String(), hashedNameSeparator, xxhash.Sum64String(key))
}
