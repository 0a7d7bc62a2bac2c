package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disk_cache_lookups_total",
		Help: "Total number of disk cache lookups.",
	}, []string{"status" /* hit | miss | filtered */})
	cacheEdits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disk_cache_edits_total",
		Help: "Total number of disk cache edit leases by outcome.",
	}, []string{"result" /* committed | aborted | conflict | suspended */})
	cacheEvictedEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "disk_cache_evicted_entries_total",
		Help: "Total number of entries evicted by size trimming.",
	})
	journalRewrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disk_cache_journal_rewrites_total",
		Help: "Total number of journal rewrites.",
	}, []string{"result" /* ok | failed */})
	journalFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "disk_cache_journal_faults_total",
		Help: "Total number of journal write faults.",
	})
)
