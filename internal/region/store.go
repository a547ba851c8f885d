package region

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// PathResolver maps a world name and a world-relative path (such as "region"
// or "entities") to the absolute directory holding its region files.
type PathResolver func(world, path string) (string, error)

// Store is the entry point used by request handlers. It resolves world paths
// and delegates to a Cache.
type Store struct {
	cache   *Cache
	resolve PathResolver
	log     zerolog.Logger
}

// NewStore creates a Store over cache.
func NewStore(cache *Cache, resolve PathResolver, log zerolog.Logger) *Store {
	return &Store{cache: cache, resolve: resolve, log: log}
}

// Cache returns the underlying cache.
func (s *Store) Cache() *Cache {
	return s.cache
}

func (s *Store) dir(world, path string) (string, error) {
	dir, err := s.resolve(world, path)
	if err != nil {
		s.log.Warn().Err(err).Str("world", world).Str("path", path).Msg("cannot resolve region dir")
		return "", errors.Wrapf(err, "resolve %s/%s", world, path)
	}
	return dir, nil
}

// ReadChunk returns the zlib data of a chunk, or ErrNotFound.
func (s *Store) ReadChunk(world, path string, x, z int) ([]byte, error) {
	dir, err := s.dir(world, path)
	if err != nil {
		return nil, err
	}
	data, err := s.cache.ReadChunk(dir, x, z)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrapf(err, "read chunk %d,%d in %s", x, z, dir)
	}
	return data, err
}

// WriteChunk stores the zlib data of a chunk. A nil error acknowledges the
// write.
func (s *Store) WriteChunk(world, path string, x, z int, data []byte) error {
	dir, err := s.dir(world, path)
	if err != nil {
		return err
	}
	if err := s.cache.WriteChunk(dir, x, z, data); err != nil {
		return errors.Wrapf(err, "write chunk %d,%d in %s", x, z, dir)
	}
	return nil
}

// IsOpen reports whether the region holding a chunk is currently cached.
func (s *Store) IsOpen(world, path string, x, z int) (bool, error) {
	dir, err := s.dir(world, path)
	if err != nil {
		return false, err
	}
	return s.cache.IsOpen(dir, x, z), nil
}
