package region

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// Linear region format
//
// File structure:
//   Header (32 bytes):
//     - Magic (8): 0xC3FF13183CCA9D9A
//     - Version (1): 1
//     - Timestamp (8): seconds since epoch of the flush
//     - Level (1): zstd level of the payload
//     - ChunkCount (2): occupied slots, informational
//     - PayloadLen (4): length L of the compressed payload
//     - Hash (8): xxhash64 of the compressed payload
//   Payload (L bytes, one zstd frame with checksum):
//     - Slot table: 1024 x (Size u32, Reserved u32)
//     - Raw bytes of each slot with Size > 0, in slot order
//   Footer (8 bytes):
//     - Magic

const (
	Magic      uint64 = 0xC3FF13183CCA9D9A
	Version    uint8  = 1
	HeaderSize        = 32
	FooterSize        = 8

	// SlotCount is the number of chunk slots in a region.
	SlotCount     = 32 * 32
	slotEntrySize = 8
	slotTableSize = SlotCount * slotEntrySize
)

var (
	ErrBadMagic     = errors.New("region: bad magic")
	ErrBadVersion   = errors.New("region: unsupported version")
	ErrBadLength    = errors.New("region: file length mismatch")
	ErrHashMismatch = errors.New("region: payload hash mismatch")
	ErrBadPayload   = errors.New("region: malformed payload")
)

// Header is the fixed-size region file header.
type Header struct {
	Magic      uint64
	Version    uint8
	Timestamp  int64
	Level      uint8
	ChunkCount uint16
	PayloadLen uint32
	Hash       uint64
}

func encodeHeader(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(buf[0:8], h.Magic)
	buf[8] = h.Version
	binary.BigEndian.PutUint64(buf[9:17], uint64(h.Timestamp))
	buf[17] = h.Level
	binary.BigEndian.PutUint16(buf[18:20], h.ChunkCount)
	binary.BigEndian.PutUint32(buf[20:24], h.PayloadLen)
	binary.BigEndian.PutUint64(buf[24:32], h.Hash)
	return buf
}

func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, errors.Wrapf(ErrBadLength, "header is %d bytes", len(buf))
	}
	h := &Header{
		Magic:      binary.BigEndian.Uint64(buf[0:8]),
		Version:    buf[8],
		Timestamp:  int64(binary.BigEndian.Uint64(buf[9:17])),
		Level:      buf[17],
		ChunkCount: binary.BigEndian.Uint16(buf[18:20]),
		PayloadLen: binary.BigEndian.Uint32(buf[20:24]),
		Hash:       binary.BigEndian.Uint64(buf[24:32]),
	}
	if h.Magic != Magic {
		return nil, errors.Wrapf(ErrBadMagic, "header magic %#x", h.Magic)
	}
	if h.Version != Version {
		return nil, errors.Wrapf(ErrBadVersion, "version %d", h.Version)
	}
	return h, nil
}

// ReadHeader reads and validates just the header of a region file.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, errors.Wrap(ErrBadLength, "short header")
		}
		return nil, err
	}
	return decodeHeader(buf)
}

// rawSlot is one slot of a decoded payload.
type rawSlot struct {
	index int
	data  []byte
}

// encodeRegion builds a complete region file image from the raw bytes of
// each occupied slot. raw must have SlotCount entries; nil means empty.
func encodeRegion(raw [][]byte, timestamp int64, codec *blockCodec) ([]byte, *Header) {
	total := slotTableSize
	for _, b := range raw {
		total += len(b)
	}

	payload := make([]byte, slotTableSize, total)
	var count uint16
	for i, b := range raw {
		binary.BigEndian.PutUint32(payload[i*slotEntrySize:], uint32(len(b)))
		// bytes 4..8 of each entry are reserved and stay zero
		if len(b) > 0 {
			count++
		}
	}
	for _, b := range raw {
		payload = append(payload, b...)
	}

	compressed := codec.compress(payload)

	h := &Header{
		Magic:      Magic,
		Version:    Version,
		Timestamp:  timestamp,
		Level:      codec.level,
		ChunkCount: count,
		PayloadLen: uint32(len(compressed)),
		Hash:       xxhash.Sum64(compressed),
	}

	out := make([]byte, 0, HeaderSize+len(compressed)+FooterSize)
	out = append(out, encodeHeader(h)...)
	out = append(out, compressed...)
	out = binary.BigEndian.AppendUint64(out, Magic)
	return out, h
}

// decodeRegion validates a complete region file image and returns the raw
// bytes of every occupied slot.
func decodeRegion(data []byte, codec *blockCodec) (*Header, []rawSlot, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return nil, nil, err
	}

	want := int64(HeaderSize) + int64(h.PayloadLen) + FooterSize
	if int64(len(data)) != want {
		return nil, nil, errors.Wrapf(ErrBadLength, "file is %d bytes, header implies %d", len(data), want)
	}

	compressed := data[HeaderSize : HeaderSize+int(h.PayloadLen)]
	if footer := binary.BigEndian.Uint64(data[len(data)-FooterSize:]); footer != Magic {
		return nil, nil, errors.Wrapf(ErrBadMagic, "footer magic %#x", footer)
	}
	if sum := xxhash.Sum64(compressed); sum != h.Hash {
		return nil, nil, errors.Wrapf(ErrHashMismatch, "got %#x, header says %#x", sum, h.Hash)
	}

	payload, err := codec.decompress(compressed)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrBadPayload, "zstd: %v", err)
	}
	if len(payload) < slotTableSize {
		return nil, nil, errors.Wrapf(ErrBadPayload, "payload is %d bytes, slot table needs %d", len(payload), slotTableSize)
	}

	var slots []rawSlot
	off := slotTableSize
	for i := 0; i < SlotCount; i++ {
		size := int32(binary.BigEndian.Uint32(payload[i*slotEntrySize:]))
		if size < 0 || size > maxSlotSize {
			return nil, nil, errors.Wrapf(ErrBadPayload, "slot %d has size %d", i, size)
		}
		if size == 0 {
			continue
		}
		end := off + int(size)
		if end > len(payload) {
			return nil, nil, errors.Wrapf(ErrBadPayload, "slot %d overruns payload", i)
		}
		slots = append(slots, rawSlot{index: i, data: payload[off:end]})
		off = end
	}
	if off != len(payload) {
		return nil, nil, errors.Wrapf(ErrBadPayload, "%d trailing payload bytes", len(payload)-off)
	}

	return h, slots, nil
}

// SlotInfo describes one occupied slot of a region file.
type SlotInfo struct {
	Index int
	X, Z  int // position within the region, 0..31
	Size  int // raw bytes
}

// Verify fully decodes the region file at path and returns its header and
// occupied slots. Unlike Open it reports corruption as an error.
func Verify(path string) (*Header, []SlotInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	codec, err := sharedBlockCodec()
	if err != nil {
		return nil, nil, err
	}

	h, slots, err := decodeRegion(data, codec)
	if err != nil {
		return nil, nil, err
	}

	infos := make([]SlotInfo, len(slots))
	for i, s := range slots {
		infos[i] = SlotInfo{
			Index: s.index,
			X:     s.index % 32,
			Z:     s.index / 32,
			Size:  len(s.data),
		}
	}
	return h, infos, nil
}
