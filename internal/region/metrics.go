package region

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "regionstore"
	subsystem = "cache"
)

// Collectors returns Prometheus collectors that read the cache counters at
// scrape time.
func (c *Cache) Collectors() []prometheus.Collector {
	counter := func(name, help string, value func(Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(value(c.Stats()))
		})
	}

	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "open_regions",
			Help:      "Region files currently held in the cache.",
		}, func() float64 {
			return float64(c.Len())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "capacity",
			Help:      "Maximum number of region files held in the cache.",
		}, func() float64 {
			return float64(c.capacity)
		}),
		counter("hits_total", "Region lookups served by an open file.", func(s Stats) uint64 { return s.Hits }),
		counter("misses_total", "Region lookups that opened a file.", func(s Stats) uint64 { return s.Misses }),
		counter("evictions_total", "Region files evicted and closed.", func(s Stats) uint64 { return s.Evictions }),
		counter("flushes_total", "Region files written to disk.", func(s Stats) uint64 { return s.Flushes }),
		counter("flush_errors_total", "Failed region flushes.", func(s Stats) uint64 { return s.FlushErrors }),
		counter("corrupt_loads_total", "Region files discarded as corrupt on load.", func(s Stats) uint64 { return s.CorruptLoads }),
		counter("dropped_writes_total", "Chunk writes dropped because the data was not valid zlib.", func(s Stats) uint64 { return s.DroppedWrites }),
		counter("chunk_reads_total", "Chunks read.", func(s Stats) uint64 { return s.ChunkReads }),
		counter("chunk_writes_total", "Chunks written.", func(s Stats) uint64 { return s.ChunkWrites }),
	}
}
