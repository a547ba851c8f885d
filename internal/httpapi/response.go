package httpapi

import "github.com/freeeve/regionstore/internal/region"

// WriteResponse acknowledges a chunk write.
type WriteResponse struct {
	OK bool `json:"ok"`
}

// StatsResponse is the JSON form of region.Stats.
type StatsResponse struct {
	OpenRegions   int     `json:"open_regions"`
	Capacity      int     `json:"capacity"`
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	HitPct        float64 `json:"hit_pct,omitempty"` // Hit percentage (0-100)
	Evictions     uint64  `json:"evictions"`
	Flushes       uint64  `json:"flushes"`
	FlushErrors   uint64  `json:"flush_errors"`
	CorruptLoads  uint64  `json:"corrupt_loads"`
	DroppedWrites uint64  `json:"dropped_writes"`
	ChunkReads    uint64  `json:"chunk_reads"`
	ChunkWrites   uint64  `json:"chunk_writes"`
}

// ToStatsResponse converts cache stats to a JSON-friendly response.
func ToStatsResponse(s region.Stats) *StatsResponse {
	resp := &StatsResponse{
		OpenRegions:   s.OpenFiles,
		Capacity:      s.Capacity,
		Hits:          s.Hits,
		Misses:        s.Misses,
		Evictions:     s.Evictions,
		Flushes:       s.Flushes,
		FlushErrors:   s.FlushErrors,
		CorruptLoads:  s.CorruptLoads,
		DroppedWrites: s.DroppedWrites,
		ChunkReads:    s.ChunkReads,
		ChunkWrites:   s.ChunkWrites,
	}
	if lookups := s.Hits + s.Misses; lookups > 0 {
		resp.HitPct = float64(s.Hits) / float64(lookups) * 100
	}
	return resp
}
