// Package store manages the on-disk layout of the knowledge base index.
//
// Each saved index lives in its own generation directory (gen-000001,
// gen-000002, ...) under the data dir, and a CURRENT pointer file names the
// live generation. Replacing the index writes a complete new generation next
// to the old one and then swaps the pointer with an atomic rename, so a crash
// at any point leaves either the old or the new index fully intact, never a
// half-written one.
//
// When the live generation turns out to be unreadable, Quarantine renames it
// aside with a timestamped backup suffix instead of deleting it, so the
// damaged data stays available for inspection.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// CurrentFileName is the pointer file naming the live generation.
	CurrentFileName = "CURRENT"

	// SnapshotFileName is the index file inside each generation directory.
	SnapshotFileName = "index.snapshot"

	genPrefix     = "gen-"
	backupInfix   = "_backup_"
	dirPermission = 0o755
)

// Store manages generation directories under a single data dir. It is safe
// for concurrent use; all operations are serialized.
type Store struct {
	dir string

	mu     sync.Mutex
	nextID uint64
}

// Open prepares a Store over dir, creating it if needed. The existing
// generation (if any) is left untouched; use Current to find it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, dirPermission); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{dir: dir}

	// Resume numbering after the highest existing generation, including
	// quarantined ones, so ids never collide with leftovers.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	for _, e := range entries {
		if id, ok := parseGenID(e.Name()); ok && id >= s.nextID {
			s.nextID = id + 1
		}
	}
	if s.nextID == 0 {
		s.nextID = 1
	}

	return s, nil
}

// Dir returns the data dir this store manages.
func (s *Store) Dir() string { return s.dir }

// Current returns the path of the live generation's snapshot file. The
// second return value is false when no generation has been written yet.
func (s *Store) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, ok := s.currentGen()
	if !ok {
		return "", false
	}
	return filepath.Join(s.dir, gen, SnapshotFileName), true
}

// Replace writes a new generation using write and makes it the live one.
// The previous generation is kept; older ones are pruned.
func (s *Store) Replace(write func(w io.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	genName := fmt.Sprintf("%s%06d", genPrefix, s.nextID)
	genDir := filepath.Join(s.dir, genName)
	if err := os.MkdirAll(genDir, dirPermission); err != nil {
		return fmt.Errorf("create generation dir: %w", err)
	}
	s.nextID++

	snapshotPath := filepath.Join(genDir, SnapshotFileName)
	tmpPath := snapshotPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, snapshotPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalize snapshot: %w", err)
	}
	if err := syncDir(genDir); err != nil {
		return fmt.Errorf("sync generation dir: %w", err)
	}

	previous, hadPrevious := s.currentGen()

	if err := s.writeCurrent(genName); err != nil {
		return err
	}

	if hadPrevious {
		s.prune(keepSet(genName, previous))
	}
	return nil
}

// Quarantine moves the live generation aside with a timestamped backup
// suffix and clears the pointer, so the next Replace starts fresh. It
// returns the path the damaged generation was moved to. Quarantining when no
// generation exists is a no-op and returns an empty path.
func (s *Store) Quarantine() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, ok := s.currentGen()
	if !ok {
		return "", nil
	}

	backupName := fmt.Sprintf("%s%s%d", gen, backupInfix, time.Now().Unix())
	backupPath := filepath.Join(s.dir, backupName)

	genDir := filepath.Join(s.dir, gen)
	if _, err := os.Stat(genDir); err == nil {
		if err := os.Rename(genDir, backupPath); err != nil {
			return "", fmt.Errorf("quarantine generation: %w", err)
		}
	} else {
		// Pointer names a missing generation. Nothing to move; just
		// clear the pointer below.
		backupPath = ""
	}

	if err := os.Remove(filepath.Join(s.dir, CurrentFileName)); err != nil && !os.IsNotExist(err) {
		return backupPath, fmt.Errorf("clear current pointer: %w", err)
	}
	if err := syncDir(s.dir); err != nil {
		return backupPath, fmt.Errorf("sync data dir: %w", err)
	}
	return backupPath, nil
}

// Generations lists the generation directories present under the data dir,
// live and retained alike, in ascending id order. Quarantined backups are
// excluded.
func (s *Store) Generations() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	var gens []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := parseGenID(e.Name()); ok && !strings.Contains(e.Name(), backupInfix) {
			gens = append(gens, e.Name())
		}
	}
	sort.Strings(gens)
	return gens, nil
}

// currentGen reads the pointer file. Must be called with mu held.
func (s *Store) currentGen() (string, bool) {
	content, err := os.ReadFile(filepath.Join(s.dir, CurrentFileName))
	if err != nil {
		return "", false
	}
	gen := strings.TrimSpace(string(content))
	if gen == "" {
		return "", false
	}
	return gen, true
}

// writeCurrent swaps the pointer file atomically. Must be called with mu
// held.
func (s *Store) writeCurrent(gen string) error {
	tmpPath := filepath.Join(s.dir, CurrentFileName+".tmp")

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create pointer file: %w", err)
	}
	if _, err := f.WriteString(gen); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write pointer file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync pointer file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close pointer file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, CurrentFileName)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("swap pointer file: %w", err)
	}
	return syncDir(s.dir)
}

// prune removes generation directories not in keep. Quarantined backups are
// never pruned. Failures are ignored; stale generations cost disk, not
// correctness, and the next Replace retries. Must be called with mu held.
func (s *Store) prune(keep map[string]struct{}) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.Contains(name, backupInfix) {
			continue
		}
		if _, ok := parseGenID(name); !ok {
			continue
		}
		if _, ok := keep[name]; ok {
			continue
		}
		os.RemoveAll(filepath.Join(s.dir, name))
	}
}

func keepSet(names ...string) map[string]struct{} {
	keep := make(map[string]struct{}, len(names))
	for _, n := range names {
		keep[n] = struct{}{}
	}
	return keep
}

// parseGenID extracts the numeric id from a generation (or backup) dir name.
func parseGenID(name string) (uint64, bool) {
	if !strings.HasPrefix(name, genPrefix) {
		return 0, false
	}
	numeric := strings.TrimPrefix(name, genPrefix)
	if i := strings.Index(numeric, backupInfix); i >= 0 {
		numeric = numeric[:i]
	}
	id, err := strconv.ParseUint(numeric, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
