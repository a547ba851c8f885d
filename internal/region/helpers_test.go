package region

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for debounce tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(out *syncBuffer) zerolog.Logger {
	return zerolog.New(out).Level(zerolog.DebugLevel)
}

// chunkData returns n bytes that compress somewhat, like real chunk NBT.
func chunkData(seed int64, n int) []byte {
	rng := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	for i := range b {
		if i%4 == 0 {
			b[i] = byte(rng.Intn(256))
		} else {
			b[i] = byte(i % 7)
		}
	}
	return b
}

func wireData(t *testing.T, raw []byte) []byte {
	t.Helper()
	w, err := deflateWire(raw)
	require.NoError(t, err)
	return w
}

func rawFromWire(t *testing.T, wire []byte) []byte {
	t.Helper()
	raw, err := inflateWire(wire)
	require.NoError(t, err)
	return raw
}
