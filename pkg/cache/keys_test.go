package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateKey(t *testing.T) {
	for _, testCase := range []struct {
		key     string
		wantErr bool
	}{
		{key: "simple"},
		{key: "Mixed.Case/with:punctuation!"},
		{key: strings.Repeat("k", maxKeyLength)},
		{key: "", wantErr: true},
		{key: "has space", wantErr: true},
		{key: "tab\tkey", wantErr: true},
		{key: "new\nline", wantErr: true},
		{key: "nul\x00byte", wantErr: true},
		{key: strings.Repeat("k", maxKeyLength+1), wantErr: true},
	} {
		err := validateKey(testCase.key)
		if testCase.wantErr {
			assert.ErrorIs(t, err, ErrInvalidKey, "key %q", testCase.key)
		} else {
			assert.NoError(t, err, "key %q", testCase.key)
		}
	}
}

func TestFileNameForKey(t *testing.T) {
	t.Run("short lowercase keys are kept", func(t *testing.T) {
		assert.Equal(t, "user_42", fileNameForKey("user_42"))
	})
	t.Run("reserved names are hashed", func(t *testing.T) {
		for _, key := range []string{"journal"} {
			name := fileNameForKey(key)
			assert.NotEqual(t, key, name)
			assert.True(t, strings.HasPrefix(name, key+hashedNameSeparator), name)
		}
	})
	t.Run("other keys are sanitized and hashed", func(t *testing.T) {
		name := fileNameForKey("../Etc/Passwd")
		assert.True(t, strings.HasPrefix(name, "etcpasswd"+hashedNameSeparator), name)
		assert.NotContains(t, name, "/")
		assert.NotEqual(t, fileNameForKey("A"), fileNameForKey("a"))
		assert.NotEqual(t, fileNameForKey("a.b"), fileNameForKey("a/b"), "Same prefix, different hash")
	})
	t.Run("long keys have a bounded prefix", func(t *testing.T) {
		name := fileNameForKey(strings.Repeat("x", maxKeyLength))
		assert.Len(t, name, maxFileNamePrefix+len(hashedNameSeparator)+16)
	})
	t.Run("names are stable", func(t *testing.T) {
		assert.Equal(t, fileNameForKey("Some Key"), fileNameForKey("Some Key"))
	})
}
