package source

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
)

// Snapshot is the on-disk form of a Memory fetcher.
type Snapshot struct {
	Dataset   string          `json:"dataset"`
	CreatedAt time.Time       `json:"created_at"`
	Series    []domain.Series `json:"series"`
}

// WriteSnapshot encodes every stored series, ordered by location and variable.
func (m *Memory) WriteSnapshot(w io.Writer, dataset string) error {
	m.mu.RLock()
	snap := Snapshot{Dataset: dataset, CreatedAt: domain.Now()}
	for _, s := range m.series {
		snap.Series = append(snap.Series, s)
	}
	m.mu.RUnlock()

	sort.Slice(snap.Series, func(i, j int) bool {
		a, b := snap.Series[i], snap.Series[j]
		if a.Location != b.Location {
			return a.Location < b.Location
		}
		return a.Variable < b.Variable
	})

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot decodes a snapshot into a new Memory fetcher. Every series is
// validated before it is stored.
func ReadSnapshot(r io.Reader) (*Memory, Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	m := NewMemory()
	for i, s := range snap.Series {
		if err := s.Validate(); err != nil {
			return nil, Snapshot{}, fmt.Errorf("snapshot series %d (%s %s): %w", i, s.Location, s.Variable, err)
		}
		m.Put(s)
	}
	return m, snap, nil
}

// OpenSnapshot reads a snapshot file.
func OpenSnapshot(path string) (*Memory, Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Snapshot{}, err
	}
	defer f.Close()
	return ReadSnapshot(f)
}
