package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fabianferno/blindmatch/models"
)

// Snapshot is a point-in-time export of the full service state, written
// at session end and on demand for offline inspection.
type Snapshot struct {
	TakenAt  int64                  `json:"taken_at"`
	Profiles []*models.Profile      `json:"profiles"`
	Requests []*models.MatchRequest `json:"requests"`
	Chain    []*models.AuditBlock   `json:"chain"`
}

// SnapshotArchive writes timestamped snapshot files into a directory and
// prunes old ones, keeping the most recent few.
type SnapshotArchive struct {
	dataDir string
	keep    int
}

type archiveFile struct {
	path      string
	timestamp int64
}

type archiveFiles []archiveFile

func (f archiveFiles) Len() int           { return len(f) }
func (f archiveFiles) Less(i, j int) bool { return f[i].timestamp < f[j].timestamp }
func (f archiveFiles) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }

func NewSnapshotArchive(dataDir string, keep int) (*SnapshotArchive, error) {
	absPath, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	if keep < 1 {
		keep = 1
	}

	return &SnapshotArchive{dataDir: absPath, keep: keep}, nil
}

// Save writes a new timestamped snapshot and prunes older ones.
func (a *SnapshotArchive) Save(snapshot *Snapshot) error {
	timestamp := time.Now().Format("20060102150405")
	filename := filepath.Join(a.dataDir, fmt.Sprintf("state_snapshot_%s.json", timestamp))

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "    ")
	if err := encoder.Encode(snapshot); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := a.cleanupOldFiles("state_snapshot_*.json"); err != nil {
		log.Printf("Warning: failed to cleanup old snapshots: %v", err)
	}

	return nil
}

// LoadLatest returns the most recent snapshot, or nil if none exists.
func (a *SnapshotArchive) LoadLatest() (*Snapshot, error) {
	latestFile, err := a.latestFile("state_snapshot_*.json")
	if err != nil {
		return nil, err
	}
	if latestFile == "" {
		return nil, nil
	}

	file, err := os.Open(latestFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot %s: %w", latestFile, err)
	}
	defer file.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(file).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", latestFile, err)
	}

	return &snapshot, nil
}

func (a *SnapshotArchive) collect(pattern string) (archiveFiles, error) {
	files, err := filepath.Glob(filepath.Join(a.dataDir, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot files: %w", err)
	}

	var parsed archiveFiles
	for _, file := range files {
		base := filepath.Base(file)
		parts := strings.Split(strings.TrimSuffix(base, ".json"), "_")
		if len(parts) < 3 {
			continue
		}
		timestamp, err := time.Parse("20060102150405", parts[len(parts)-1])
		if err != nil {
			log.Printf("Warning: invalid timestamp in filename %s: %v", base, err)
			continue
		}
		parsed = append(parsed, archiveFile{path: file, timestamp: timestamp.Unix()})
	}

	sort.Sort(parsed)
	return parsed, nil
}

func (a *SnapshotArchive) latestFile(pattern string) (string, error) {
	files, err := a.collect(pattern)
	if err != nil || len(files) == 0 {
		return "", err
	}
	return files[len(files)-1].path, nil
}

func (a *SnapshotArchive) cleanupOldFiles(pattern string) error {
	files, err := a.collect(pattern)
	if err != nil {
		return err
	}

	for i := 0; i < len(files)-a.keep; i++ {
		if err := os.Remove(files[i].path); err != nil {
			log.Printf("Warning: failed to remove old snapshot %s: %v", files[i].path, err)
		}
	}
	return nil
}
