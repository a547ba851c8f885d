package region

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestFile(t *testing.T, path string, opts Options) *File {
	t.Helper()
	f, err := Open(path, opts)
	require.NoError(t, err)
	return f
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.linear")
	f := openTestFile(t, path, Options{})

	written := map[[2]int][]byte{}
	for i, xz := range [][2]int{{0, 0}, {1, 0}, {0, 1}, {17, 9}, {31, 31}} {
		wire := wireData(t, chunkData(int64(i), 200+i*300))
		require.NoError(t, f.PutChunk(xz[0], xz[1], wire))
		written[xz] = wire
	}
	// Overwrite one slot; the later write wins.
	last := wireData(t, chunkData(99, 64))
	require.NoError(t, f.PutChunk(17, 9, last))
	written[[2]int{17, 9}] = last

	require.True(t, f.Dirty())
	require.NoError(t, f.Flush())
	require.False(t, f.Dirty())
	require.NoError(t, f.Close())

	g := openTestFile(t, path, Options{})
	require.Equal(t, len(written), g.ChunkCount())
	for x := 0; x < 32; x++ {
		for z := 0; z < 32; z++ {
			got, err := g.GetChunk(x, z)
			want, ok := written[[2]int{x, z}]
			if !ok {
				require.ErrorIs(t, err, ErrNotFound, "chunk %d,%d", x, z)
				continue
			}
			require.NoError(t, err)
			require.Equal(t, want, got, "chunk %d,%d", x, z)
		}
	}
}

func TestFileEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.linear")
	f := openTestFile(t, path, Options{})

	a := chunkData(100, 100)
	b := chunkData(50, 50)
	require.NoError(t, f.PutChunk(0, 0, wireData(t, a)))
	require.NoError(t, f.PutChunk(31, 31, wireData(t, b)))
	require.NoError(t, f.Flush())
	require.NoError(t, f.Close())

	g := openTestFile(t, path, Options{})

	got, err := g.GetChunk(0, 0)
	require.NoError(t, err)
	require.Equal(t, a, rawFromWire(t, got))

	got, err = g.GetChunk(31, 31)
	require.NoError(t, err)
	require.Equal(t, b, rawFromWire(t, got))

	_, err = g.GetChunk(1, 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileWorldCoordinates(t *testing.T) {
	f := openTestFile(t, filepath.Join(t.TempDir(), "r.-1.2.linear"), Options{})

	wire := wireData(t, chunkData(1, 128))
	require.NoError(t, f.PutChunk(-1, 70, wire))

	// -1 & 31 == 31, 70 & 31 == 6
	got, err := f.GetChunk(31, 6)
	require.NoError(t, err)
	require.Equal(t, wire, got)
	require.Equal(t, 31+6*32, slotIndex(-1, 70))
}

func TestFlushIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.linear")
	f := openTestFile(t, path, Options{})

	// Clean regions never touch the disk.
	require.NoError(t, f.Flush())
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, f.PutChunk(2, 3, wireData(t, chunkData(1, 1000))))
	require.NoError(t, f.Flush())
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, f.Flush())
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	require.Equal(t, uint64(1), f.Flushes())
	require.Equal(t, first, second)
}

func TestFlushLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	f := openTestFile(t, filepath.Join(dir, "r.0.0.linear"), Options{})
	require.NoError(t, f.PutChunk(0, 0, wireData(t, chunkData(1, 10))))
	require.NoError(t, f.Flush())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "r.0.0.linear", entries[0].Name())
}

func TestFlushFailureKeepsDirty(t *testing.T) {
	dir := t.TempDir()
	// The parent directory is missing, so the temp file cannot be created.
	f := openTestFile(t, filepath.Join(dir, "missing", "r.0.0.linear"), Options{})
	require.NoError(t, f.PutChunk(0, 0, wireData(t, chunkData(1, 10))))

	require.Error(t, f.Flush())
	require.True(t, f.Dirty())
	require.Zero(t, f.Flushes())

	require.NoError(t, os.Mkdir(filepath.Join(dir, "missing"), 0755))
	require.NoError(t, f.Flush())
	require.False(t, f.Dirty())
}

func TestCorruptFileLoadsEmpty(t *testing.T) {
	cases := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"truncated", func(b []byte) []byte { return b[:len(b)-1] }},
		{"flipped magic", func(b []byte) []byte { b[0] ^= 0xFF; return b }},
		{"zero length", func(b []byte) []byte { return b[:0] }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "r.0.0.linear")
			f := openTestFile(t, path, Options{})
			require.NoError(t, f.PutChunk(4, 4, wireData(t, chunkData(1, 500))))
			require.NoError(t, f.Close())

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, tc.mutate(data), 0644))

			var logs syncBuffer
			g, err := Open(path, Options{Logger: testLogger(&logs)})
			require.NoError(t, err)
			require.Zero(t, g.ChunkCount())
			require.False(t, g.Dirty())
			_, err = g.GetChunk(4, 4)
			require.ErrorIs(t, err, ErrNotFound)
			require.Contains(t, logs.String(), "region file corrupt")
		})
	}
}

func TestOpenUnreadableFileFails(t *testing.T) {
	// A directory where the region file should be cannot be read.
	path := filepath.Join(t.TempDir(), "r.0.0.linear")
	require.NoError(t, os.Mkdir(path, 0755))

	_, err := Open(path, Options{})
	require.Error(t, err)
}

func TestPutChunkInvalidDataKeepsSlot(t *testing.T) {
	var logs syncBuffer
	f := openTestFile(t, filepath.Join(t.TempDir(), "r.0.0.linear"), Options{Logger: testLogger(&logs)})

	good := wireData(t, chunkData(1, 300))
	require.NoError(t, f.PutChunk(5, 5, good))
	require.NoError(t, f.Flush())

	err := f.PutChunk(5, 5, []byte{0x01, 0x02, 0x03})
	require.ErrorIs(t, err, ErrInvalidChunk)
	require.False(t, f.Dirty())
	require.Contains(t, logs.String(), "dropping chunk write")

	got, err := f.GetChunk(5, 5)
	require.NoError(t, err)
	require.Equal(t, good, got)
}

func TestPutEmptyChunkClearsSlot(t *testing.T) {
	f := openTestFile(t, filepath.Join(t.TempDir(), "r.0.0.linear"), Options{})
	require.NoError(t, f.PutChunk(1, 2, wireData(t, chunkData(1, 300))))
	require.Equal(t, 1, f.ChunkCount())

	require.NoError(t, f.PutChunk(1, 2, wireData(t, nil)))
	require.Zero(t, f.ChunkCount())
	_, err := f.GetChunk(1, 2)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMaybeFlushDebounce(t *testing.T) {
	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), "r.0.0.linear")
	f := openTestFile(t, path, Options{FlushDelay: 10 * time.Second, Now: clock.Now})

	require.NoError(t, f.PutChunk(0, 0, wireData(t, chunkData(1, 100))))
	flushed, err := f.MaybeFlush()
	require.NoError(t, err)
	require.False(t, flushed)
	require.Zero(t, f.Flushes())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	// Another write restarts the quiet period.
	clock.Advance(9 * time.Second)
	require.NoError(t, f.PutChunk(1, 0, wireData(t, chunkData(2, 100))))
	clock.Advance(9 * time.Second)
	flushed, err = f.MaybeFlush()
	require.NoError(t, err)
	require.False(t, flushed)

	clock.Advance(2 * time.Second)
	flushed, err = f.MaybeFlush()
	require.NoError(t, err)
	require.True(t, flushed)
	require.Equal(t, uint64(1), f.Flushes())

	flushed, err = f.MaybeFlush()
	require.NoError(t, err)
	require.False(t, flushed)
	require.Equal(t, uint64(1), f.Flushes())
	require.FileExists(t, path)
}

func TestClosedFileRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.linear")
	f := openTestFile(t, path, Options{})
	require.NoError(t, f.PutChunk(0, 0, wireData(t, chunkData(1, 10))))
	require.NoError(t, f.Close())
	require.FileExists(t, path)

	require.ErrorIs(t, f.PutChunk(0, 0, wireData(t, chunkData(2, 10))), ErrClosed)
	require.NoError(t, f.Close())

	// Reads still work on the retired instance.
	_, err := f.GetChunk(0, 0)
	require.NoError(t, err)
}

func TestClosedFileDoesNotFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.linear")
	old := openTestFile(t, path, Options{})
	require.NoError(t, old.PutChunk(0, 0, wireData(t, []byte("old"))))
	require.NoError(t, old.Close())

	// A newer instance now owns the path.
	cur := openTestFile(t, path, Options{})
	require.NoError(t, cur.PutChunk(0, 0, wireData(t, []byte("new"))))
	require.NoError(t, cur.Flush())

	require.ErrorIs(t, old.Flush(), ErrClosed)
	require.Equal(t, uint64(1), old.Flushes())

	reloaded := openTestFile(t, path, Options{})
	got, err := reloaded.GetChunk(0, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("new"), rawFromWire(t, got))
}

func TestHeaderTimestampUsesClock(t *testing.T) {
	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), "r.0.0.linear")
	f := openTestFile(t, path, Options{Now: clock.Now})
	require.NoError(t, f.PutChunk(0, 0, wireData(t, chunkData(1, 10))))
	require.NoError(t, f.Flush())

	h, err := ReadHeader(path)
	require.NoError(t, err)
	require.Equal(t, clock.Now().Unix(), h.Timestamp)
	require.Equal(t, uint16(1), h.ChunkCount)
	require.Equal(t, uint8(DefaultCompressionLevel), h.Level)
}
