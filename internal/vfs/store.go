// Package vfs implements the virtual file store (spec §4.2, C2): an
// in-memory overlay of a real on-disk directory. Writes land only in the
// overlay; the disk is never touched by this package.
package vfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store maps logical paths to byte content, overlaying a real directory.
// All accesses are serialised through a single lock, matching spec §4.2's
// "low contention expected" rationale.
type Store struct {
	mu      sync.RWMutex
	root    string
	overlay map[string][]byte
}

// New creates a store rooted at root. root is consulted for any path not
// present in the overlay.
func New(root string) *Store {
	return &Store{root: root, overlay: make(map[string][]byte)}
}

// Put inserts or replaces the overlay entry for path.
func (s *Store) Put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.overlay[path] = cp
}

// Delete removes path from the overlay. It does not touch the disk, so a
// subsequent Read falls through to whatever (if anything) exists on disk.
func (s *Store) Delete(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overlay, path)
}

// Read returns the bytes for path: the overlay if present, else the file
// at root/path on disk. This is the resolution of spec §9's Open Question
// on overlay-vs-disk precedence: the overlay always wins, unconditionally
// and regardless of on-disk mtime — an UpdateFiles that stages content a
// client hasn't saved to disk must be what every subsequent Read sees,
// even if the file changes under the store out of band (see
// vfs.Watcher, which observes such changes but never acts on them).
func (s *Store) Read(path string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.overlay[path]
	s.mu.RUnlock()
	if ok {
		cp := make([]byte, len(data))
		copy(cp, data)
		return cp, nil
	}
	full := filepath.Join(s.root, path)
	b, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("vfs: read %s: %w", path, err)
	}
	return b, nil
}

// Has reports whether path has an overlay entry (regardless of disk state).
func (s *Store) Has(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.overlay[path]
	return ok
}

// OverlaidPaths returns every path currently present in the overlay, in no
// particular order.
func (s *Store) OverlaidPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.overlay))
	for p := range s.overlay {
		paths = append(paths, p)
	}
	return paths
}

// Root returns the on-disk directory this store overlays.
func (s *Store) Root() string { return s.root }
