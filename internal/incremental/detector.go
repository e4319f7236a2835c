package incremental

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	ckerrors "squint/internal/errors"
	"squint/internal/parser"
	"squint/internal/storage"
)

// Directories to skip during detection
var skipDirs = map[string]bool{
	".git":         true,
	".squint":      true,
	"vendor":       true,
	"node_modules": true,
	"bin":          true,
	"dist":         true,
	"out":          true,
	"build":        true,
	".cache":       true,
	"coverage":     true,
	"testdata":     true,
}

// ChangeDetector compares the source tree against indexed file records
type ChangeDetector struct {
	repoRoot string
	files    *storage.FileRepository
	registry *parser.Registry
	config   *Config
	logger   *slog.Logger
}

// NewChangeDetector creates a new change detector
func NewChangeDetector(repoRoot string, files *storage.FileRepository, registry *parser.Registry, config *Config, logger *slog.Logger) *ChangeDetector {
	if config == nil {
		config = DefaultConfig()
	}
	return &ChangeDetector{
		repoRoot: repoRoot,
		files:    files,
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// DetectChanges walks the tree and classifies each parseable file as added,
// modified or unchanged; indexed paths missing on disk are deleted. It has
// no side effects. An unreadable root is SOURCE_UNREADABLE.
func (d *ChangeDetector) DetectChanges() (*DetectionResult, error) {
	info, err := os.Stat(d.repoRoot)
	if err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("not a directory")
		}
		return nil, ckerrors.New(ckerrors.SourceUnreadable, fmt.Sprintf("cannot read source directory %s", d.repoRoot), err)
	}
	if _, err := os.ReadDir(d.repoRoot); err != nil {
		return nil, ckerrors.New(ckerrors.SourceUnreadable, fmt.Sprintf("cannot read source directory %s", d.repoRoot), err)
	}

	indexed, err := d.files.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to get indexed files: %w", err)
	}
	indexedMap := make(map[string]storage.File, len(indexed))
	for _, f := range indexed {
		indexedMap[f.Path] = f
	}

	gi := d.loadGitignore()
	result := &DetectionResult{}
	seen := make(map[string]bool)

	err = filepath.WalkDir(d.repoRoot, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // Skip inaccessible entries, continue walking
		}
		relPath, relErr := filepath.Rel(d.repoRoot, path)
		if relErr != nil {
			return nil //nolint:nilerr
		}
		relPath = filepath.ToSlash(relPath)

		if entry.IsDir() {
			if path == d.repoRoot {
				return nil
			}
			if skipDirs[entry.Name()] || d.isExcluded(relPath) || (gi != nil && gi.MatchesPath(relPath+"/")) {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if !d.registry.Supports(relPath) || d.isExcluded(relPath) || (gi != nil && gi.MatchesPath(relPath)) {
			return nil
		}

		seen[relPath] = true
		hash, size, mtime, hashErr := hashFile(path)
		if hashErr != nil {
			d.logger.Debug("Skipping unreadable file", "path", relPath, "error", hashErr.Error())
			// Keep an indexed copy rather than reporting it deleted
			return nil
		}

		prev, exists := indexedMap[relPath]
		switch {
		case !exists:
			result.Changes = append(result.Changes, ChangedFile{Path: relPath, ChangeType: ChangeAdded, Hash: hash, Size: size, ModifiedAt: mtime})
		case prev.ContentHash != hash:
			result.Changes = append(result.Changes, ChangedFile{Path: relPath, ChangeType: ChangeModified, Hash: hash, Size: size, ModifiedAt: mtime})
		default:
			result.UnchangedCount++
		}
		return nil
	})
	if err != nil {
		return nil, ckerrors.New(ckerrors.SourceUnreadable, "failed to walk repository", err)
	}

	for path := range indexedMap {
		if !seen[path] {
			result.Changes = append(result.Changes, ChangedFile{Path: path, ChangeType: ChangeDeleted})
		}
	}

	sort.Slice(result.Changes, func(i, j int) bool {
		return result.Changes[i].Path < result.Changes[j].Path
	})
	return result, nil
}

func (d *ChangeDetector) loadGitignore() *ignore.GitIgnore {
	if !d.config.RespectGitignore {
		return nil
	}
	gi, err := ignore.CompileIgnoreFile(filepath.Join(d.repoRoot, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}

// isExcluded checks a slash-separated relative path against configured excludes
func (d *ChangeDetector) isExcluded(path string) bool {
	for _, pattern := range d.config.Excludes {
		normalizedPattern := filepath.ToSlash(pattern)

		if matched, _ := filepath.Match(normalizedPattern, path); matched {
			return true
		}
		if matched, _ := filepath.Match(normalizedPattern, filepath.Base(path)); matched {
			return true
		}

		// Directory exclude: "vendor" matches "vendor/foo/bar.go"
		dirPattern := strings.TrimSuffix(normalizedPattern, "/") + "/"
		if strings.HasPrefix(path, dirPattern) || path == strings.TrimSuffix(normalizedPattern, "/") {
			return true
		}
	}
	return false
}

// hashFile computes the SHA256 of a file along with its size and mtime
func hashFile(path string) (string, int64, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, 0, err
	}
	defer f.Close() //nolint:errcheck // Best effort cleanup

	info, err := f.Stat()
	if err != nil {
		return "", 0, 0, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", 0, 0, err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), info.Size(), info.ModTime().Unix(), nil
}

// HashContent hashes in-memory content the same way hashFile does
func HashContent(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}
