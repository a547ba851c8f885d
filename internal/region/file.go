package region

import (
	"bytes"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	atomicfile "github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultFlushDelay is how long a region must be free of writes before the
// scheduler persists it.
const DefaultFlushDelay = 10 * time.Second

var (
	// ErrNotFound is returned when a chunk slot is empty.
	ErrNotFound = errors.New("region: chunk not found")
	// ErrInvalidChunk is returned when caller data is not valid zlib.
	ErrInvalidChunk = errors.New("region: invalid chunk data")
	// ErrClosed is returned by writes to a File that has been evicted.
	ErrClosed = errors.New("region: file closed")
)

// Options configures a File.
type Options struct {
	Logger     zerolog.Logger
	FlushDelay time.Duration    // quiescence before MaybeFlush persists, default 10s
	Now        func() time.Time // clock, default time.Now

	codec *blockCodec
	stats *statsCollector
}

func (o *Options) applyDefaults() error {
	if o.FlushDelay == 0 {
		o.FlushDelay = DefaultFlushDelay
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.codec == nil {
		codec, err := sharedBlockCodec()
		if err != nil {
			return err
		}
		o.codec = codec
	}
	return nil
}

// slot holds one chunk as an LZ4 block plus its raw length. size == 0 means
// the slot is empty and data is nil.
type slot struct {
	data []byte
	size int
}

// File is the in-memory state of one region file.
type File struct {
	path string

	mu           sync.RWMutex
	slots        [SlotCount]slot
	dirty        bool
	closed       bool
	lastModified time.Time

	flushes atomic.Uint64

	flushDelay time.Duration
	now        func() time.Time
	codec      *blockCodec
	stats      *statsCollector
	log        zerolog.Logger
}

// slotIndex maps chunk coordinates to a slot. Only the low 5 bits of each
// coordinate are used, so world coordinates can be passed directly.
func slotIndex(x, z int) int {
	return (x & 31) + (z&31)*32
}

// Open loads the region file at path. A missing file yields an empty region.
// A file that fails validation is logged as corrupt and also yields an empty
// region; only I/O errors are returned.
func Open(path string, opts Options) (*File, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}

	f := &File{
		path:       path,
		flushDelay: opts.FlushDelay,
		now:        opts.Now,
		codec:      opts.codec,
		stats:      opts.stats,
		log:        opts.Logger.With().Str("region", path).Logger(),
	}
	f.lastModified = f.now()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, errors.Wrapf(err, "read region %s", path)
	}

	start := time.Now()
	if err := f.load(data); err != nil {
		f.slots = [SlotCount]slot{}
		f.stats.corrupt()
		f.log.Warn().Err(err).Int("bytes", len(data)).Msg("region file corrupt, treating as empty")
		return f, nil
	}

	f.log.Debug().
		Int("chunks", f.chunkCount()).
		Dur("dur", time.Since(start)).
		Msg("loaded region")
	return f, nil
}

func (f *File) load(data []byte) error {
	_, slots, err := decodeRegion(data, f.codec)
	if err != nil {
		return err
	}
	for _, s := range slots {
		block, err := compressFast(s.data)
		if err != nil {
			return errors.Wrapf(ErrBadPayload, "slot %d: lz4: %v", s.index, err)
		}
		f.slots[s.index] = slot{data: block, size: len(s.data)}
	}
	return nil
}

// Path returns the absolute path of the region file.
func (f *File) Path() string {
	return f.path
}

// GetChunk returns the zlib-compressed data of the chunk at (x, z), or
// ErrNotFound if the slot is empty.
func (f *File) GetChunk(x, z int) ([]byte, error) {
	f.mu.RLock()
	s := f.slots[slotIndex(x, z)]
	f.mu.RUnlock()

	if s.size == 0 {
		return nil, ErrNotFound
	}

	// Slot blocks are never mutated in place, so decoding outside the lock is safe.
	raw, err := decompressFast(s.data, s.size)
	if err != nil {
		return nil, errors.Wrapf(err, "decode chunk %d,%d", x, z)
	}
	wire, err := deflateWire(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "encode chunk %d,%d", x, z)
	}
	return wire, nil
}

// PutChunk stores zlib-compressed chunk data at (x, z). Data that does not
// inflate is rejected with ErrInvalidChunk and the slot keeps its old value.
func (f *File) PutChunk(x, z int, wire []byte) error {
	raw, err := inflateWire(wire)
	if err != nil {
		f.log.Warn().Err(err).Int("x", x).Int("z", z).Msg("dropping chunk write with bad zlib data")
		return errors.Wrapf(ErrInvalidChunk, "chunk %d,%d: %v", x, z, err)
	}

	var s slot
	if len(raw) > 0 {
		block, err := compressFast(raw)
		if err != nil {
			return errors.Wrapf(err, "compress chunk %d,%d", x, z)
		}
		s = slot{data: block, size: len(raw)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	f.slots[slotIndex(x, z)] = s
	f.dirty = true
	f.lastModified = f.now()
	return nil
}

// Flush writes the region to disk if it has unsaved changes. The file is
// written to a temp file and renamed into place. A closed File returns
// ErrClosed: once evicted, its path may belong to a newer instance.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	return f.flushLocked()
}

func (f *File) flushLocked() error {
	if !f.dirty {
		return nil
	}

	start := time.Now()
	raw := make([][]byte, SlotCount)
	var memBytes, rawBytes int
	for i, s := range f.slots {
		if s.size == 0 {
			continue
		}
		b, err := decompressFast(s.data, s.size)
		if err != nil {
			f.stats.flushed(err)
			return errors.Wrapf(err, "flush %s: decode slot %d", f.path, i)
		}
		raw[i] = b
		memBytes += len(s.data)
		rawBytes += len(b)
	}

	image, header := encodeRegion(raw, f.now().Unix(), f.codec)

	if err := atomicfile.WriteFile(f.path, bytes.NewReader(image)); err != nil {
		f.stats.flushed(err)
		return errors.Wrapf(err, "flush %s", f.path)
	}

	f.dirty = false
	f.flushes.Add(1)
	f.stats.flushed(nil)

	ev := f.log.Debug().
		Uint16("chunks", header.ChunkCount).
		Str("size", humanize.Bytes(uint64(len(image)))).
		Dur("dur", time.Since(start))
	if rawBytes > 0 {
		ev = ev.Int("mem_ratio_pct", 100*memBytes/rawBytes)
	}
	ev.Msg("flushed region")
	return nil
}

// MaybeFlush flushes only when the region is dirty and has not been written
// for at least the flush delay. It reports whether a flush happened.
func (f *File) MaybeFlush() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.dirty || f.closed {
		return false, nil
	}
	if f.now().Sub(f.lastModified) < f.flushDelay {
		return false, nil
	}
	if err := f.flushLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// Close flushes the region and rejects further writes.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	err := f.flushLocked()
	f.closed = true
	return err
}

// Dirty reports whether the region has unsaved writes.
func (f *File) Dirty() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dirty
}

// LastModified returns the time of the most recent write (or of Open).
func (f *File) LastModified() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastModified
}

// ChunkCount returns the number of occupied slots.
func (f *File) ChunkCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.chunkCount()
}

func (f *File) chunkCount() int {
	n := 0
	for _, s := range f.slots {
		if s.size != 0 {
			n++
		}
	}
	return n
}

// Flushes returns how many times this File has written itself to disk.
func (f *File) Flushes() uint64 {
	return f.flushes.Load()
}
