package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const indexFileName = "index.json"

// BatchInfo is one manifest entry. The manifest plus the referenced
// files form the durable queue; an entry without its file is treated
// as lost and dropped on read.
type BatchInfo struct {
	ID         int64  `json:"id"`
	FileName   string `json:"fileName"`
	PointCount int    `json:"pointCount"`
	SizeBytes  int64  `json:"sizeBytes"`
	CreatedAt  int64  `json:"createdAt"` // epoch milliseconds
}

// manifest is the on-disk index. Persisting it is the commit point
// for every mutation; an orphan batch file without an entry is never
// read and is harmless.
type manifest struct {
	NextBatchID int64       `json:"nextBatchId"`
	Batches     []BatchInfo `json:"batches"`
}

func (m manifest) totalSize() int64 {
	var total int64
	for _, batch := range m.Batches {
		total += batch.SizeBytes
	}
	return total
}

func loadManifest(dir string) (manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return manifest{NextBatchID: 1}, nil
	}
	if err != nil {
		return manifest{}, fmt.Errorf("outbox: read index: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{}, fmt.Errorf("outbox: decode index: %w", err)
	}
	if m.NextBatchID < 1 {
		m.NextBatchID = 1
	}
	return m, nil
}

// saveManifest writes the index through a temp file and rename so a
// crash mid-write leaves the previous index intact.
func saveManifest(dir string, m manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("outbox: encode index: %w", err)
	}
	tmp := filepath.Join(dir, indexFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("outbox: write index: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, indexFileName)); err != nil {
		return fmt.Errorf("outbox: commit index: %w", err)
	}
	return nil
}
