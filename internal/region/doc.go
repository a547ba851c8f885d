// Package region stores chunk data for a game world in linear region files
// and keeps a bounded cache of open regions with debounced persistence.
//
// A region is a 32x32 grid of chunk slots persisted as one container file
// named r.<rx>.<rz>.linear, where rx and rz are the chunk coordinates shifted
// right by 5.
//
// Compression:
//   - Wire: zlib, used for every byte exchanged with callers
//   - Memory: LZ4 blocks, one per occupied slot, re-compressed on every write
//   - Disk: a single zstd frame (with content checksum) over the whole slot table
//
// File Format (big-endian):
//   - Header (32 bytes): magic, version, timestamp, level, chunk count,
//     payload length, xxhash64 of the compressed payload
//   - Payload: zstd(1024 x (size u32, reserved u32) + raw slot bytes)
//   - Footer (8 bytes): magic
//
// Persistence:
//   - Writes only touch memory and mark the region dirty
//   - A background scheduler flushes regions that have been quiet for FlushDelay
//   - Eviction and Shutdown flush before discarding a region
//   - Flushes go through a temp file and an atomic rename
package region
