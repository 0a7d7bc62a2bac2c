package port

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/nobletooth/kache/pkg/cache"
	"github.com/nobletooth/kache/pkg/scan"
	"github.com/nobletooth/kache/pkg/utils"
)

var (
	dataDir         = flag.String("data_dir", "./data", "Directory owned by the disk cache.")
	cacheMaxSize    = flag.String("cache_max_size", "200MiB", "Bound on the total size of cached values, e.g. 512MB.")
	cacheAppVersion = flag.Int("cache_app_version", 1,
		"Version of the cached data format; bumping it discards the cache on the next start.")
	cacheCleanupFraction = flag.Float64("cache_cleanup_fraction", cache.DefaultCleanupFraction,
		"Fraction of --cache_max_size that eviction shrinks the cache to.")
	journalRewriteThreshold = flag.Int("journal_rewrite_threshold", cache.DefaultRewriteThreshold,
		"Number of journal appends after which the journal is compacted.")
	keyFilterCapacity = flag.Uint("key_filter_capacity", 0,
		"Expected number of keys for the negative lookup filter; 0 disables it.")
)

// KeyValueHolder is the storage served by Kache ports.
type KeyValueHolder interface {
	Get(key string) ([]byte, error)
	Set(cmd SetCommand) SetResult
	Delete(key string) (bool /*deleted*/, error)
	Exists(key string) (bool, error)
	Keys(pattern string) ([]string, error)
	Stats() (Stats, error)
	FlushAll() error
	Save() error
	Close() error
}

// Stats summarizes the storage for INFO / DBSIZE.
type Stats struct {
	Keys    int
	Bytes   int64
	MaxSize int64
}

// KacheStorage is the disk cache backend used by Kache ports, e.g. Redis.
type KacheStorage struct {
	mux     sync.RWMutex // Keeps writers from racing the read leases of concurrent GETs.
	cache   *cache.DiskCache
	maxSize int64
}

// optionsFromFlags builds the cache options out of the command line flags.
func optionsFromFlags() (cache.Options, error) {
	if *dataDir == "" {
		return cache.Options{}, errors.New("--data_dir flag is required")
	}
	maxSize, err := humanize.ParseBytes(*cacheMaxSize)
	if err != nil {
		return cache.Options{}, fmt.Errorf("invalid --cache_max_size %q: %w", *cacheMaxSize, err)
	}
	return cache.Options{
		Dir:               *dataDir,
		MaxSize:           int64(maxSize),
		AppVersion:        *cacheAppVersion,
		CleanupFraction:   *cacheCleanupFraction,
		RewriteThreshold:  *journalRewriteThreshold,
		KeyFilterCapacity: *keyFilterCapacity,
	}, nil
}

// NewKacheStorage opens the disk cache configured by flags.
func NewKacheStorage() (*KacheStorage, error) {
	opts, err := optionsFromFlags()
	if err != nil {
		return nil, err
	}
	diskCache, err := cache.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open disk cache: %w", err)
	}
	slog.Info("Opened disk cache.", "dir", opts.Dir, "maxSize", humanize.IBytes(uint64(opts.MaxSize)))

	store := &KacheStorage{cache: diskCache, maxSize: opts.MaxSize}
	runtime.SetFinalizer(store, func(store *KacheStorage) { _ = store.Close() })
	return store, nil
}

// Get returns the value of the given `key`, or cache.ErrKeyNotFound.
func (ks *KacheStorage) Get(key string) ([]byte, error) {
	ks.mux.RLock()
	defer ks.mux.RUnlock()
	return ks.cache.GetBytes(key)
}

type existenceCheck uint8

const (
	noCheck     existenceCheck = iota
	ifNotExists                // NX
	ifExists                   // XX
)

var allExistenceChecks = []existenceCheck{noCheck, ifExists, ifNotExists}

type SetCommand struct {
	key       string
	value     []byte
	existence existenceCheck
	get       bool // The Redis GET option; if true, should return the previous value.
}

type SetResult struct {
	previousValue    []byte // Only set if the command requires the previous value.
	hasPreviousValue bool   // If true, the `key` specified in SetCommand had a previous value.
	couldSet         bool   // If true, something was set in the storage.
	err              error
}

// Set executes the given `cmd` and returns the previous value if required.
func (ks *KacheStorage) Set(cmd SetCommand) SetResult {
	if !slices.Contains(allExistenceChecks, cmd.existence) {
		utils.RaiseInvariant("backend", "unknown_set_existence_constraint",
			"Got an unknown existence constraint in the given set command.", "constraint", cmd.existence)
		return SetResult{err: fmt.Errorf("got unknown set constraint '%d'", cmd.existence)}
	}

	ks.mux.Lock()
	defer ks.mux.Unlock()

	// Check if the previous value needs to be retrieved.
	var prevValue []byte
	hasPrevValue := false
	if cmd.existence != noCheck || cmd.get {
		value, err := ks.cache.GetBytes(cmd.key)
		if err != nil && !errors.Is(err, cache.ErrKeyNotFound) {
			return SetResult{err: fmt.Errorf("failed to get previous value: %w", err)}
		} else if err == nil {
			prevValue = value
			hasPrevValue = true
		}
	}

	couldSet := cmd.existence == noCheck || // Set any way.
		(cmd.existence == ifNotExists && !hasPrevValue) || // NX; Set only if not exists.
		(cmd.existence == ifExists && hasPrevValue) // XX; Set only if exists.
	if couldSet {
		if err := ks.cache.PutBytes(cmd.key, cmd.value); err != nil {
			return SetResult{err: fmt.Errorf("failed to set value: %w", err)}
		}
	}

	if cmd.get {
		return SetResult{previousValue: prevValue, hasPreviousValue: hasPrevValue, couldSet: couldSet}
	}
	return SetResult{couldSet: couldSet}
}

// Delete removes the key and reports whether it existed.
func (ks *KacheStorage) Delete(key string) (bool, error) {
	ks.mux.Lock()
	defer ks.mux.Unlock()
	return ks.cache.Remove(key)
}

// Exists reports whether the key has a readable value.
func (ks *KacheStorage) Exists(key string) (bool, error) {
	ks.mux.RLock()
	defer ks.mux.RUnlock()
	return ks.cache.Contains(key)
}

// Keys returns the keys matching the glob `pattern`, least recently used first.
func (ks *KacheStorage) Keys(pattern string) ([]string, error) {
	keys, err := ks.cache.Keys()
	if err != nil {
		return nil, err
	}
	matched, err := scan.MatchKeys(pattern, slices.Values(keys))
	if err != nil {
		return nil, err
	}
	return slices.Collect(matched), nil
}

// Stats returns the number of keys and the size of their values.
func (ks *KacheStorage) Stats() (Stats, error) {
	keys, err := ks.cache.Keys()
	if err != nil {
		return Stats{}, err
	}
	size, err := ks.cache.Size()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Keys: len(keys), Bytes: size, MaxSize: ks.maxSize}, nil
}

// FlushAll evicts every key.
func (ks *KacheStorage) FlushAll() error {
	ks.mux.Lock()
	defer ks.mux.Unlock()
	return ks.cache.EvictAll()
}

// Save trims the cache and syncs its journal to disk.
func (ks *KacheStorage) Save() error {
	return ks.cache.Flush()
}

func (ks *KacheStorage) Close() error {
	ks.mux.Lock()
	defer ks.mux.Unlock()
	return ks.cache.Close()
}
