package deltalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"cortex/internal/cerr"
	"cortex/internal/sitemap"
	"cortex/internal/validation"
)

// Store persists one domain's DeltaLog on disk: a single snapshot.bin (the
// latest full SiteMap) plus an ordered sequence of deltas/{seq}.bin files.
// Writes are single-writer/multi-reader: Append and GC hold an exclusive
// lock for the duration of the call, Rehydrate and History take a shared
// lock. Rehydrate reconstructs the state as of a given time by unwinding the
// latest snapshot backward through retained deltas and replaying forward;
// it only ever reads, so it never blocks Append.
type Store struct {
	root string
	keep int

	mu   sync.RWMutex
	seqs []int // cached sorted list of delta sequence numbers on disk
}

// Open returns a Store rooted at baseDir/domain, creating the directory
// layout if absent. keep <= 0 falls back to DefaultKeepDeltas.
func Open(baseDir, domain string, keep int) (*Store, error) {
	clean, err := validation.Domain(domain)
	if err != nil {
		return nil, err
	}
	if keep <= 0 {
		keep = DefaultKeepDeltas
	}
	root := filepath.Join(baseDir, clean)
	if err := os.MkdirAll(filepath.Join(root, "deltas"), 0o755); err != nil {
		return nil, fmt.Errorf("creating deltalog directory: %w", err)
	}
	s := &Store{root: root, keep: keep}
	if err := s.loadSeqs(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) snapshotPath() string { return filepath.Join(s.root, "snapshot.bin") }
func (s *Store) deltaPath(seq int) string {
	return filepath.Join(s.root, "deltas", fmt.Sprintf("%010d.bin", seq))
}

func (s *Store) loadSeqs() error {
	entries, err := os.ReadDir(filepath.Join(s.root, "deltas"))
	if err != nil {
		return fmt.Errorf("listing deltas: %w", err)
	}
	var seqs []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext != ".bin" {
			continue
		}
		n, err := strconv.Atoi(name[:len(name)-len(ext)])
		if err != nil {
			continue
		}
		seqs = append(seqs, n)
	}
	sort.Ints(seqs)
	s.seqs = seqs
	return nil
}

// SaveSnapshot atomically replaces the stored full SiteMap.
func (s *Store) SaveSnapshot(m *sitemap.SiteMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := sitemap.Encode(m)
	if err != nil {
		return err
	}
	return atomicWrite(s.snapshotPath(), data)
}

// LoadSnapshot returns the stored full SiteMap, or an error wrapping
// cerr.ErrDomainNotMapped if none has been saved yet.
func (s *Store) LoadSnapshot() (*sitemap.SiteMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(s.snapshotPath())
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: no snapshot for domain", cerr.ErrDomainNotMapped)
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return sitemap.Decode(data)
}

// storedDelta pairs the wire-encoded SiteDelta with the metadata needed to
// order and filter it without decoding every delta on disk.
type storedDelta struct {
	Seq           int                        `json:"seq"`
	Timestamp     time.Time                  `json:"timestamp"`
	BaseHash      uint32                     `json:"base_hash"`
	ContributorID string                     `json:"contributor_id"`
	NodesAdded    []string                   `json:"nodes_added,omitempty"`
	NodesRemoved  []string                   `json:"nodes_removed,omitempty"`
	NodesModified []sitemap.NodeModification `json:"nodes_modified,omitempty"`
	AddedNodes    []sitemap.NodeSnapshot     `json:"added_nodes,omitempty"`
	RemovedNodes  []sitemap.NodeSnapshot     `json:"removed_nodes,omitempty"`
}

// Append writes delta as the next sequence number and runs garbage
// collection, discarding deltas older than the retention window.
func (s *Store) Append(delta sitemap.SiteDelta) (seq int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq = 0
	if len(s.seqs) > 0 {
		seq = s.seqs[len(s.seqs)-1] + 1
	}
	sd := storedDelta{
		Seq:           seq,
		Timestamp:     delta.Timestamp,
		BaseHash:      delta.BaseHash,
		ContributorID: delta.ContributorID,
		NodesAdded:    delta.NodesAdded,
		NodesRemoved:  delta.NodesRemoved,
		NodesModified: delta.NodesModified,
		AddedNodes:    delta.AddedNodes,
		RemovedNodes:  delta.RemovedNodes,
	}
	data, err := json.Marshal(sd)
	if err != nil {
		return 0, fmt.Errorf("encoding delta: %w", err)
	}
	if err := atomicWrite(s.deltaPath(seq), data); err != nil {
		return 0, err
	}
	s.seqs = append(s.seqs, seq)
	s.gcLocked()
	return seq, nil
}

// gcLocked discards deltas beyond the retention window. Must be called with
// s.mu held for writing.
func (s *Store) gcLocked() {
	if len(s.seqs) <= s.keep {
		return
	}
	drop := s.seqs[:len(s.seqs)-s.keep]
	for _, seq := range drop {
		_ = os.Remove(s.deltaPath(seq))
	}
	s.seqs = s.seqs[len(s.seqs)-s.keep:]
}

// History returns every stored delta with timestamp <= until, oldest first.
// A zero until returns all retained deltas.
func (s *Store) History(until time.Time) ([]sitemap.SiteDelta, error) {
	s.mu.RLock()
	seqs := append([]int(nil), s.seqs...)
	s.mu.RUnlock()

	var out []sitemap.SiteDelta
	for _, seq := range seqs {
		data, err := os.ReadFile(s.deltaPath(seq))
		if err != nil {
			continue // GC may have raced the read; skip rather than fail the whole scan
		}
		var sd storedDelta
		if err := json.Unmarshal(data, &sd); err != nil {
			return nil, fmt.Errorf("decoding delta %d: %w", seq, err)
		}
		if !until.IsZero() && sd.Timestamp.After(until) {
			continue
		}
		out = append(out, sitemap.SiteDelta{
			Timestamp:     sd.Timestamp,
			BaseHash:      sd.BaseHash,
			ContributorID: sd.ContributorID,
			NodesAdded:    sd.NodesAdded,
			NodesRemoved:  sd.NodesRemoved,
			NodesModified: sd.NodesModified,
			AddedNodes:    sd.AddedNodes,
			RemovedNodes:  sd.RemovedNodes,
		})
	}
	return out, nil
}

// Rehydrate reconstructs the SiteMap as of time at. If at is zero or no
// earlier than the newest retained delta, the stored snapshot is returned
// directly. Otherwise the snapshot is unwound backward through every
// retained delta (newest first) to recover the oldest state this Store
// still retains, then replayed forward through deltas timestamped at or
// before at. Node set and feature-dimension changes round-trip exactly;
// edge and action changes are not captured by SiteDelta and so do not
// survive a Rehydrate that crosses an add or remove.
func (s *Store) Rehydrate(at time.Time) (*sitemap.SiteMap, error) {
	latest, err := s.LoadSnapshot()
	if err != nil {
		return nil, err
	}
	deltas, err := s.History(time.Time{})
	if err != nil {
		return nil, err
	}
	if len(deltas) == 0 || (!at.IsZero() && !at.Before(deltas[len(deltas)-1].Timestamp)) {
		return latest, nil
	}

	state := latest
	for i := len(deltas) - 1; i >= 0; i-- {
		state, err = Unapply(state, deltas[i])
		if err != nil {
			return nil, fmt.Errorf("unwinding delta %d: %w", i, err)
		}
	}

	for _, d := range deltas {
		if d.Timestamp.After(at) {
			break
		}
		state, err = Apply(state, d)
		if err != nil {
			return nil, fmt.Errorf("replaying delta at %s: %w", d.Timestamp, err)
		}
	}
	return state, nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsyncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
