package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The real flags live in packages this one doesn't import; tests register look-alikes.
var (
	testLogLevel      = flag.String("log_level", "info", "")
	testDataDir       = flag.String("data_dir", "./data", "")
	testMaxSize       = flag.String("cache_max_size", "200MiB", "")
	testFraction      = flag.Float64("cache_cleanup_fraction", 0.9, "")
	testFilterCap     = flag.Uint("key_filter_capacity", 0, "")
	testAddress       = flag.String("address", ":6380", "")
	testRewriteThresh = flag.Int("journal_rewrite_threshold", 2000, "")
	_                 = flag.String("not_in_config", "", "")
)

// resetFlag restores the flag's default value at the end of the test.
func resetFlag(t *testing.T, name string) {
	t.Helper()
	f := flag.Lookup(name)
	require.NotNil(t, f)
	t.Cleanup(func() { require.NoError(t, f.Value.Set(f.DefValue)) })
}

func TestConfigDescriptor(t *testing.T) {
	md, err := configDescriptor()
	require.NoError(t, err)
	assert.Equal(t, "kache.Config", string(md.FullName()))
	flags, err := getDefinedFlags(md)
	require.NoError(t, err)
	for _, name := range []string{"log_handler_type", "log_level", "log_add_source", "data_dir", "cache_max_size", "cache_app_version",
		"cache_cleanup_fraction", "journal_rewrite_threshold", "key_filter_capacity", "address", "metrics_address"} {
		assert.Contains(t, flags, name)
	}
	assert.Len(t, flags, 11)
}

func TestSetConfigFlags(t *testing.T) {
	for _, name := range []string{"log_level", "data_dir", "cache_max_size", "cache_cleanup_fraction",
		"key_filter_capacity", "address", "journal_rewrite_threshold"} {
		resetFlag(t, name)
	}
	conf, err := parseConfig([]byte(`
		logging { log_level: "debug" }
		cache {
			data_dir: "/var/cache/kache"
			cache_max_size: "1GiB"
			cache_cleanup_fraction: 0.75
			key_filter_capacity: 100000
			journal_rewrite_threshold: 500
		}
		server { address: ":7000" }
	`))
	require.NoError(t, err)
	require.NoError(t, setConfigFlags(conf, map[string]struct{}{"address": {}}))

	assert.Equal(t, "debug", *testLogLevel)
	assert.Equal(t, "/var/cache/kache", *testDataDir)
	assert.Equal(t, "1GiB", *testMaxSize)
	assert.Equal(t, 0.75, *testFraction)
	assert.Equal(t, uint(100000), *testFilterCap)
	assert.Equal(t, 500, *testRewriteThresh)
	assert.Equal(t, ":6380", *testAddress, "Command line flags win over the config file")
}

func TestParseConfig_Errors(t *testing.T) {
	for _, testCase := range []struct {
		name    string
		content string
	}{
		{name: "unknown section", content: `metrics { enabled: true }`},
		{name: "unknown field", content: `cache { size: 10 }`},
		{name: "flat field", content: `data_dir: "/tmp"`},
		{name: "wrong type", content: `cache { cache_app_version: "one" }`},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := parseConfig([]byte(testCase.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		err := loadConfigFile(filepath.Join(t.TempDir(), "absent.txtpb"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("invalid content", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.txtpb")
		require.NoError(t, os.WriteFile(path, []byte("cache {"), 0o644))
		assert.Error(t, loadConfigFile(path))
	})
	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.txtpb")
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		assert.NoError(t, loadConfigFile(path))
	})
}

func TestCollectUnregisteredFlags(t *testing.T) {
	errs := CollectUnregisteredFlags()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "not_in_config")
}
