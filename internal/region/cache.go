package region

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultCapacity is the number of region files a Cache keeps open.
const DefaultCapacity = 256

// ErrCacheClosed is returned by lookups after Shutdown.
var ErrCacheClosed = errors.New("region: cache shut down")

// CacheOptions configures a Cache.
type CacheOptions struct {
	Logger           zerolog.Logger
	Capacity         int              // max open region files, default 256
	FlushDelay       time.Duration    // per-file quiescence before a scheduled flush, default 10s
	ScheduleWindow   time.Duration    // one scheduler pass is spread over this window, default 10s
	SchedulePause    time.Duration    // idle time between scheduler passes, default 10s
	CompressionLevel int              // zstd level for region payloads, default 1
	Now              func() time.Time // clock passed to every File, default time.Now
}

// Cache keeps at most Capacity region files open, one File per path, and
// flushes them in the background.
type Cache struct {
	mu     sync.Mutex
	files  map[string]*File
	order  *lru.Cache // most recently used at the front
	closed bool

	// evictErr is the Close error of the last eviction, guarded by mu.
	evictErr error
	// trimming makes onEvicted keep regions that fail to flush, guarded by mu.
	trimming bool

	capacity int
	fileOpts Options
	codec    *blockCodec
	stats    *statsCollector
	log      zerolog.Logger

	sched *scheduler
}

// NewCache creates a Cache. The scheduler starts on first use.
func NewCache(opts CacheOptions) (*Cache, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.FlushDelay == 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	if opts.ScheduleWindow == 0 {
		opts.ScheduleWindow = DefaultScheduleWindow
	}
	if opts.SchedulePause == 0 {
		opts.SchedulePause = DefaultSchedulePause
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	codec, err := newBlockCodec(opts.CompressionLevel)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		files:    make(map[string]*File),
		order:    lru.New(0),
		capacity: opts.Capacity,
		codec:    codec,
		stats:    &statsCollector{},
		log:      opts.Logger,
	}
	c.fileOpts = Options{
		Logger:     opts.Logger,
		FlushDelay: opts.FlushDelay,
		Now:        opts.Now,
		codec:      codec,
		stats:      c.stats,
	}
	c.order.OnEvicted = c.onEvicted
	c.sched = newScheduler(c, opts.ScheduleWindow, opts.SchedulePause, opts.Logger)
	return c, nil
}

// RegionPath returns the absolute path of the region file holding chunk
// (chunkX, chunkZ) under regionDir. Symlinks are not resolved.
func RegionPath(regionDir string, chunkX, chunkZ int) string {
	name := fmt.Sprintf("r.%d.%d.linear", chunkX>>5, chunkZ>>5)
	p := filepath.Join(regionDir, name)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Get returns the File for the region holding (chunkX, chunkZ), loading or
// creating it if it is not open.
func (c *Cache) Get(regionDir string, chunkX, chunkZ int) (*File, error) {
	c.sched.start()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(regionDir, RegionPath(regionDir, chunkX, chunkZ))
}

func (c *Cache) getLocked(regionDir, path string) (*File, error) {
	if c.closed {
		return nil, ErrCacheClosed
	}
	if _, ok := c.order.Get(path); ok {
		c.stats.hit()
		return c.files[path], nil
	}
	c.stats.miss()

	if err := os.MkdirAll(regionDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create region dir %s", regionDir)
	}
	if c.order.Len() >= c.capacity {
		c.order.RemoveOldest()
	}

	f, err := Open(path, c.fileOpts)
	if err != nil {
		return nil, err
	}
	c.files[path] = f
	c.order.Add(path, f)
	return f, nil
}

// GetIfExists is like Get but never creates a region: it returns nil when the
// region is neither open nor present on disk. A region that is open counts as
// existing even if it has not been flushed yet, so reads see earlier writes.
// Stat failures other than a missing file are returned.
func (c *Cache) GetIfExists(regionDir string, chunkX, chunkZ int) (*File, error) {
	c.sched.start()

	path := RegionPath(regionDir, chunkX, chunkZ)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCacheClosed
	}
	if _, open := c.files[path]; !open {
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "stat region %s", path)
		}
		if !info.Mode().IsRegular() {
			return nil, nil
		}
	}
	return c.getLocked(regionDir, path)
}

// IsOpen reports whether the region holding (chunkX, chunkZ) is in the cache.
// It does not affect recency.
func (c *Cache) IsOpen(regionDir string, chunkX, chunkZ int) bool {
	path := RegionPath(regionDir, chunkX, chunkZ)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.files[path]
	return ok
}

// Files returns a snapshot of the open region files.
func (c *Cache) Files() []*File {
	c.mu.Lock()
	defer c.mu.Unlock()

	files := make([]*File, 0, len(c.files))
	for _, f := range c.files {
		files = append(files, f)
	}
	return files
}

// Len returns the number of open region files.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.files)
}

// onEvicted runs under c.mu whenever the LRU drops an entry. While trimming,
// a region whose flush fails is put back at the front so a later pass can
// retry; otherwise the region is closed and its unsaved chunks are lost.
func (c *Cache) onEvicted(key lru.Key, value interface{}) {
	path := key.(string)
	f := value.(*File)

	if c.trimming {
		if err := f.Flush(); err != nil {
			c.order.Add(path, f)
			c.log.Warn().Err(err).Str("region", path).Msg("flush on trim failed, keeping region open")
			return
		}
	}

	delete(c.files, path)
	c.stats.evicted()

	if err := f.Close(); err != nil {
		c.evictErr = err
		c.log.Error().Err(err).Str("region", path).Msg("flush on eviction failed, unsaved chunks lost")
		return
	}
	c.log.Debug().Str("region", path).Msg("evicted region")
}

// Trim evicts up to n of the least recently used regions, flushing each, and
// returns how many were evicted. It is the hook for memory pressure signals.
// Regions that fail to flush stay open and are not counted.
func (c *Cache) Trim(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.trimming = true
	defer func() { c.trimming = false }()

	// Each region is tried at most once; kept regions move to the front.
	evicted := 0
	for tries := c.order.Len(); evicted < n && tries > 0; tries-- {
		before := c.order.Len()
		c.order.RemoveOldest()
		if c.order.Len() < before {
			evicted++
		}
	}
	if evicted > 0 {
		c.log.Info().Int("evicted", evicted).Int("open", c.order.Len()).Msg("trimmed region cache")
	}
	return evicted
}

// ReadChunk returns the zlib data of chunk (chunkX, chunkZ) under regionDir,
// or ErrNotFound if the region or slot is empty.
func (c *Cache) ReadChunk(regionDir string, chunkX, chunkZ int) ([]byte, error) {
	f, err := c.GetIfExists(regionDir, chunkX, chunkZ)
	if err != nil {
		c.log.Error().Err(err).Int("x", chunkX).Int("z", chunkZ).Str("dir", regionDir).Msg("read chunk")
		return nil, err
	}
	if f == nil {
		return nil, ErrNotFound
	}

	data, err := f.GetChunk(chunkX, chunkZ)
	if err != nil && !errors.Is(err, ErrNotFound) {
		c.log.Error().Err(err).Int("x", chunkX).Int("z", chunkZ).Str("dir", regionDir).Msg("read chunk")
		return nil, err
	}
	if err == nil {
		c.stats.read()
	}
	return data, err
}

// WriteChunk stores zlib data for chunk (chunkX, chunkZ) under regionDir.
// Data that is not valid zlib is dropped (logged, counted) and nil is
// returned; every other failure is returned to the caller.
func (c *Cache) WriteChunk(regionDir string, chunkX, chunkZ int, data []byte) error {
	// A File can be evicted between lookup and write; retry against the
	// instance that replaced it. Get fails once the cache is shut down.
	for {
		f, err := c.Get(regionDir, chunkX, chunkZ)
		if err != nil {
			c.log.Error().Err(err).Int("x", chunkX).Int("z", chunkZ).Str("dir", regionDir).Msg("write chunk")
			return err
		}

		err = f.PutChunk(chunkX, chunkZ, data)
		switch {
		case err == nil:
			c.stats.wrote()
			return nil
		case errors.Is(err, ErrInvalidChunk):
			c.stats.dropped()
			return nil
		case errors.Is(err, ErrClosed):
			continue
		default:
			c.log.Error().Err(err).Int("x", chunkX).Int("z", chunkZ).Str("dir", regionDir).Msg("write chunk")
			return err
		}
	}
}

// Stats returns cache counters.
func (c *Cache) Stats() Stats {
	s := c.stats.snapshot()
	s.OpenFiles = c.Len()
	s.Capacity = c.capacity
	return s
}

// Shutdown stops the scheduler, then flushes and evicts every open region in
// least recently used order. The Cache is unusable afterwards.
func (c *Cache) Shutdown() error {
	c.sched.stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	n := c.order.Len()
	for c.order.Len() > 0 {
		c.evictErr = nil
		c.order.RemoveOldest()
		if c.evictErr != nil && firstErr == nil {
			firstErr = c.evictErr
		}
	}
	c.codec.Close()
	c.log.Info().Int("regions", n).Msg("region cache shut down")
	return firstErr
}
