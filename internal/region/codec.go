package region

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// DefaultCompressionLevel is the zstd level used for region payloads.
const DefaultCompressionLevel = 1

// maxSlotSize bounds the raw size of a single chunk.
const maxSlotSize = 64 * 1024 * 1024

// inflateWire decodes zlib wire data into raw chunk bytes.
func inflateWire(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, maxSlotSize+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxSlotSize {
		return nil, errors.Errorf("chunk exceeds %d bytes", maxSlotSize)
	}
	return raw, nil
}

// deflateWire encodes raw chunk bytes with zlib at BestSpeed.
func deflateWire(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// compressFast LZ4-compresses raw into a right-sized block.
func compressFast(raw []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(raw)))
	n, err := lz4.CompressBlock(raw, dst, nil)
	if err != nil {
		return nil, err
	}
	// n is never 0 when dst has CompressBlockBound capacity
	out := make([]byte, n)
	copy(out, dst[:n])
	return out, nil
}

// decompressFast expands an LZ4 block that must decode to exactly size bytes.
func decompressFast(block []byte, size int) ([]byte, error) {
	raw := make([]byte, size)
	n, err := lz4.UncompressBlock(block, raw)
	if err != nil {
		return nil, err
	}
	if n != size {
		return nil, errors.Errorf("lz4 block decoded to %d bytes, want %d", n, size)
	}
	return raw, nil
}

// blockCodec compresses whole region payloads. EncodeAll and DecodeAll are
// safe for concurrent use, so one codec is shared by every File of a Cache.
type blockCodec struct {
	level   uint8
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newBlockCodec(level int) (*blockCodec, error) {
	if level <= 0 {
		level = DefaultCompressionLevel
	}
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderCRC(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd encoder")
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		encoder.Close()
		return nil, errors.Wrap(err, "create zstd decoder")
	}
	return &blockCodec{
		level:   uint8(level),
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func (c *blockCodec) compress(payload []byte) []byte {
	return c.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
}

func (c *blockCodec) decompress(block []byte) ([]byte, error) {
	return c.decoder.DecodeAll(block, nil)
}

func (c *blockCodec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

var (
	defaultCodecOnce sync.Once
	defaultCodec     *blockCodec
	defaultCodecErr  error
)

// sharedBlockCodec returns the process-wide codec used by Files opened
// without a Cache.
func sharedBlockCodec() (*blockCodec, error) {
	defaultCodecOnce.Do(func() {
		defaultCodec, defaultCodecErr = newBlockCodec(DefaultCompressionLevel)
	})
	return defaultCodec, defaultCodecErr
}
