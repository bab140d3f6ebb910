package timemachine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/dshills/scribe/internal/editorerr"
)

const metadataFile = "project_metadata.toml"

// ProjectMetadata is stored beside each hidden repository.
type ProjectMetadata struct {
	OriginalPath string    `toml:"original_path"`
	CreatedAt    time.Time `toml:"created_at"`
	RenamedFrom  string    `toml:"renamed_from,omitempty"`
}

func writeMetadata(dir, project string, now time.Time) error {
	meta := ProjectMetadata{OriginalPath: project, CreatedAt: now}
	if old, err := readMetadata(dir); err == nil && !old.CreatedAt.IsZero() {
		meta.CreatedAt = old.CreatedAt
		if old.OriginalPath != project {
			meta.RenamedFrom = old.OriginalPath
		}
	}
	data, err := toml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode project metadata: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, metadataFile), data, 0o600)
}

func readMetadata(dir string) (ProjectMetadata, error) {
	var meta ProjectMetadata
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return meta, err
	}
	if err := toml.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse project metadata: %w", err)
	}
	return meta, nil
}

// TrackedProject is a project with a history store.
type TrackedProject struct {
	Path    string
	Hash    string
	Created time.Time
}

// ListProjects returns every project with a history store, sorted by path.
func (m *Manager) ListProjects() ([]TrackedProject, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, editorerr.FromOS("list projects", m.root, err)
	}

	var out []TrackedProject
	for _, e := range entries {
		if !e.IsDir() || strings.Contains(e.Name(), backupInfix) {
			continue
		}
		meta, err := readMetadata(filepath.Join(m.root, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, TrackedProject{Path: meta.OriginalPath, Hash: e.Name(), Created: meta.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// TrackingKind says whether a file is tracked as part of a project.
type TrackingKind int

const (
	// TrackProject tracks the file under a detected project root.
	TrackProject TrackingKind = iota
	// TrackSingleFile tracks the file under its own directory.
	TrackSingleFile
)

func (k TrackingKind) String() string {
	if k == TrackProject {
		return "project"
	}
	return "single-file"
}

// TrackingMode is where a file's history is kept.
type TrackingMode struct {
	Kind TrackingKind
	Root string
}

var projectMarkers = []string{
	".git",
	"go.mod",
	"package.json",
	"Cargo.toml",
	"pyproject.toml",
	"pom.xml",
	"build.gradle",
	"build.gradle.kts",
}

func isProjectRoot(dir string) bool {
	for _, marker := range projectMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// DetectTrackingMode finds the project root of path by walking up to the
// nearest directory holding a project marker. Files outside any project are
// tracked under their own directory.
func DetectTrackingMode(path string) (TrackingMode, error) {
	canonical, err := CanonicalPath(path)
	if err != nil {
		return TrackingMode{}, err
	}

	start := canonical
	if info, err := os.Stat(canonical); err != nil || !info.IsDir() {
		start = filepath.Dir(canonical)
	}

	for dir := start; ; {
		if isProjectRoot(dir) {
			return TrackingMode{Kind: TrackProject, Root: dir}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return TrackingMode{Kind: TrackSingleFile, Root: start}, nil
}

// HandleProjectRename moves the history of oldProject so that it follows the
// project to newProject. Nothing happens if oldProject has no history.
func (m *Manager) HandleProjectRename(ctx context.Context, oldProject, newProject string) error {
	oldRepo, err := m.locate(oldProject)
	if err != nil {
		return err
	}
	newRepo, err := m.locate(newProject)
	if err != nil {
		return err
	}
	if oldRepo.hash == newRepo.hash {
		return nil
	}

	mu := m.projectMutex(oldRepo.hash)
	mu.Lock()
	defer mu.Unlock()
	unlock, err := acquireLock(ctx, oldRepo.dir+lockSuffix, m.lockTimeout)
	if err != nil {
		return editorerr.New(editorerr.KindGit, "rename history", oldRepo.dir, err)
	}
	defer unlock()

	if _, err := os.Stat(oldRepo.dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if _, err := os.Stat(newRepo.dir); err == nil {
		return editorerr.Newf(editorerr.KindInvalidOperation, "rename history", newProject,
			"history already exists for the new path")
	}

	if err := os.Rename(oldRepo.dir, newRepo.dir); err != nil {
		return editorerr.FromOS("rename history", oldRepo.dir, err)
	}
	_ = os.Remove(oldRepo.dir + lockSuffix)
	if err := writeMetadata(newRepo.dir, newRepo.project, m.now()); err != nil {
		return fmt.Errorf("rename history: %w", err)
	}
	m.purgeCaches()
	m.log.Info("moved project history",
		zap.String("from", oldRepo.project), zap.String("to", newRepo.project))
	return nil
}
