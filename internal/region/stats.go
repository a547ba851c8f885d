package region

import "sync/atomic"

// Stats is a point-in-time view of cache activity.
type Stats struct {
	OpenFiles     int
	Capacity      int
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Flushes       uint64
	FlushErrors   uint64
	CorruptLoads  uint64
	DroppedWrites uint64
	ChunkReads    uint64
	ChunkWrites   uint64
}

// statsCollector holds the atomic counters behind Stats. A nil collector is
// valid and discards everything, which is what standalone Files use.
type statsCollector struct {
	hits          atomic.Uint64
	misses        atomic.Uint64
	evictions     atomic.Uint64
	flushes       atomic.Uint64
	flushErrors   atomic.Uint64
	corruptLoads  atomic.Uint64
	droppedWrites atomic.Uint64
	chunkReads    atomic.Uint64
	chunkWrites   atomic.Uint64
}

func (s *statsCollector) hit() {
	if s != nil {
		s.hits.Add(1)
	}
}

func (s *statsCollector) miss() {
	if s != nil {
		s.misses.Add(1)
	}
}

func (s *statsCollector) evicted() {
	if s != nil {
		s.evictions.Add(1)
	}
}

func (s *statsCollector) flushed(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.flushErrors.Add(1)
		return
	}
	s.flushes.Add(1)
}

func (s *statsCollector) corrupt() {
	if s != nil {
		s.corruptLoads.Add(1)
	}
}

func (s *statsCollector) dropped() {
	if s != nil {
		s.droppedWrites.Add(1)
	}
}

func (s *statsCollector) read() {
	if s != nil {
		s.chunkReads.Add(1)
	}
}

func (s *statsCollector) wrote() {
	if s != nil {
		s.chunkWrites.Add(1)
	}
}

func (s *statsCollector) snapshot() Stats {
	return Stats{
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Evictions:     s.evictions.Load(),
		Flushes:       s.flushes.Load(),
		FlushErrors:   s.flushErrors.Load(),
		CorruptLoads:  s.corruptLoads.Load(),
		DroppedWrites: s.droppedWrites.Load(),
		ChunkReads:    s.chunkReads.Load(),
		ChunkWrites:   s.chunkWrites.Load(),
	}
}
