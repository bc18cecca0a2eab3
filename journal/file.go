package journal

import (
	"fmt"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"
)

const (
	dirPerm  = 0o750
	filePerm = 0o644
)

// ReadRawFile reads and decodes a raw journal file. A missing file yields
// an error wrapping fs.ErrNotExist.
func ReadRawFile(path string) (*Raw, error) {
	data, err := os.ReadFile(path) //nolint:gosec // configured path
	if err != nil {
		return nil, err
	}
	raw, err := DecodeRaw(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return raw, nil
}

// ReadProvenanceFile reads and decodes a provenance journal file.
func ReadProvenanceFile(path string, alg digest.Algorithm) (*Provenance, error) {
	data, err := os.ReadFile(path) //nolint:gosec // configured path
	if err != nil {
		return nil, err
	}
	p, err := DecodeProvenance(data, alg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ReadSnapshotFile reads and decodes a snapshot file.
func ReadSnapshotFile(path string, alg digest.Algorithm) (Snapshot, error) {
	data, err := os.ReadFile(path) //nolint:gosec // configured path
	if err != nil {
		return nil, err
	}
	snap, err := DecodeSnapshot(data, alg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

// WriteProvenanceFile atomically writes p to path.
func WriteProvenanceFile(path string, p *Provenance) error {
	data, err := p.Encode()
	if err != nil {
		return fmt.Errorf("encode provenance journal: %w", err)
	}
	return WriteFileAtomic(path, data)
}

// WriteSnapshotFile atomically writes s to path.
func WriteSnapshotFile(path string, s Snapshot) error {
	data, err := s.Encode()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to a temp file beside path and renames it
// into place, so readers never observe a truncated file. Parent
// directories are created as needed.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if committed {
			return
		}
		tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	_ = tmp.Sync() // best-effort durability
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	committed = true
	return nil
}
