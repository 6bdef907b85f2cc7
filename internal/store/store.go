// Package store implements the flat-file header store: a single
// append-mostly file with one fixed-size 80-byte record per height,
// guarded by a single writer lock, following the same shape as
// lightwalletd's compact-block cache (one fixed-length record per height,
// truncate-to-reorg, tip tracked from file size) adapted to raw headers
// instead of length-prefixed protobuf blocks.
package store

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/rootSig/electrum-atom-t/internal/header"
)

// ErrStoreIO wraps any I/O failure against the backing file; per spec.md
// §7 this is the one fatal error kind — the caller should stop the engine.
var ErrStoreIO = errors.New("store: fatal I/O error")

// ChunkSize is the number of headers in one retarget epoch chunk.
const ChunkSize = 2016

// Store is a flat-file, height-indexed header store. Record i occupies
// bytes [80*i, 80*(i+1)) of the backing file; height of record i is i.
type Store struct {
	mu   sync.RWMutex
	file *os.File
	path string
}

// Open opens (creating if absent) the header store file at path.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errIO(err)
	}
	return &Store{file: f, path: path}, nil
}

func errIO(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrStoreIO, err)
}

// Path returns the backing file's path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the backing file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// TipHeight returns floor(filesize/80) - 1, or -1 for an empty store.
func (s *Store) TipHeight() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tipHeightLocked()
}

func (s *Store) tipHeightLocked() (int64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, errIO(err)
	}
	return info.Size()/header.Size - 1, nil
}

// Read returns the header at height, or (nil, nil) if the store doesn't
// extend that far (a "short read", per spec.md §4.B).
func (s *Store) Read(height int64) (*header.Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked(height)
}

func (s *Store) readLocked(height int64) (*header.Header, error) {
	if height < 0 {
		return nil, nil
	}
	buf := make([]byte, header.Size)
	n, err := s.file.ReadAt(buf, height*header.Size)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// Short read: height isn't stored yet, not a fault.
			return nil, nil
		}
		return nil, errIO(err)
	}
	if n != header.Size {
		return nil, nil
	}
	h, err := header.Decode(buf)
	if err != nil {
		return nil, nil
	}
	h.BlockHeight = height
	return h, nil
}

// WriteHeader writes a single header at its BlockHeight, flushes, then
// returns the refreshed tip height. Validation is the caller's
// responsibility (consensus + extend packages); the store never refuses
// a write on consensus grounds.
func (s *Store) WriteHeader(h *header.Header) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ser := header.Encode(h)
	if _, err := s.file.WriteAt(ser[:], h.BlockHeight*header.Size); err != nil {
		return 0, errIO(err)
	}
	if err := s.file.Sync(); err != nil {
		return 0, errIO(err)
	}
	return s.tipHeightLocked()
}

// WriteChunk atomically writes a full 2016-header epoch chunk. len(data)
// must equal ChunkSize*header.Size.
func (s *Store) WriteChunk(epoch int64, data []byte) error {
	if len(data) != ChunkSize*header.Size {
		return errors.New("store: chunk must be exactly 2016 headers")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.WriteAt(data, epoch*ChunkSize*header.Size); err != nil {
		return errIO(err)
	}
	return errIO(s.file.Sync())
}

// WriteChain writes every header in chain (ascending height order
// assumed) as a single logical commit: all member writes complete before
// the tip height this call returns is considered published, satisfying
// the ordering guarantee in spec.md §5 (no partial multi-header commit
// is observable by a reader using TipHeight/Read alone, since those take
// the same lock this method holds for its whole duration).
func (s *Store) WriteChain(chain []*header.Header) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range chain {
		ser := header.Encode(h)
		if _, err := s.file.WriteAt(ser[:], h.BlockHeight*header.Size); err != nil {
			return 0, errIO(err)
		}
	}
	if err := s.file.Sync(); err != nil {
		return 0, errIO(err)
	}
	return s.tipHeightLocked()
}

// WriteRaw overwrites the store's backing file starting at offset 0 with
// data in one call, for bulk-loading a bootstrap archive. len(data) need
// not be a multiple of header.Size; any partial trailing record is the
// caller's responsibility to have already trimmed.
func (s *Store) WriteRaw(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.WriteAt(data, 0); err != nil {
		return errIO(err)
	}
	return errIO(s.file.Sync())
}

// Truncate shortens the backing file so that it contains exactly
// keepHeight+1 records (heights 0..keepHeight). Used when the
// bootstrapper detects a corrupt tail of an archive.
func (s *Store) Truncate(keepHeight int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errIO(s.file.Truncate((keepHeight + 1) * header.Size))
}
