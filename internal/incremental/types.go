// Package incremental keeps the indexed graph in step with the source tree.
//
// Changes are detected by content hash. Each changed file is applied in its
// own transactions: first its definitions (diffed by name and kind, with
// cascade deletes for what disappeared), then its references. The content
// hash is written last, so a sync interrupted between the two is re-detected
// as modified on the next run.
//
// Every definition touched is marked dirty in the metadata layer, and the
// marks are propagated down the layer DAG for the enrichment pipeline.
package incremental

import "time"

// ChangeType represents how a file changed
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// ChangedFile represents a file that needs reindexing
type ChangedFile struct {
	Path       string     `json:"path"` // Repository-relative, forward slashes
	ChangeType ChangeType `json:"changeType"`
	Hash       string     `json:"hash,omitempty"` // New content hash (empty if deleted)
	Size       int64      `json:"size,omitempty"`
	ModifiedAt int64      `json:"modifiedAt,omitempty"`
}

// DetectionResult is the outcome of a scan
type DetectionResult struct {
	Changes        []ChangedFile `json:"changes"`
	UnchangedCount int           `json:"unchangedCount"`
}

// Counts splits the changes by type
func (r *DetectionResult) Counts() (added, modified, deleted int) {
	for _, c := range r.Changes {
		switch c.ChangeType {
		case ChangeAdded:
			added++
		case ChangeModified:
			modified++
		case ChangeDeleted:
			deleted++
		}
	}
	return added, modified, deleted
}

// SyncOptions controls a sync run
type SyncOptions struct {
	Verbose bool
	// LogFunc receives human-readable progress lines when Verbose is set
	LogFunc func(msg string)
	// InitialIndex permits syncing into an empty store
	InitialIndex bool
}

func (o SyncOptions) logf(msg string) {
	if o.Verbose && o.LogFunc != nil {
		o.LogFunc(msg)
	}
}

// FileWarning records a file skipped during sync
type FileWarning struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// SyncResult tallies what a sync run changed
type SyncResult struct {
	RunID string `json:"runId"`

	FilesAdded    int `json:"filesAdded"`
	FilesModified int `json:"filesModified"`
	FilesDeleted  int `json:"filesDeleted"`
	FilesSkipped  int `json:"filesSkipped"`

	DefinitionsAdded   int `json:"definitionsAdded"`
	DefinitionsUpdated int `json:"definitionsUpdated"`
	DefinitionsRemoved int `json:"definitionsRemoved"`

	ImportsRefreshed         int `json:"importsRefreshed"`
	DependentFilesReResolved int `json:"dependentFilesReResolved"`
	InheritanceEdges         int `json:"inheritanceEdges"`
	DanglingRefsCleaned      int `json:"danglingRefsCleaned"`
	GhostRowsCleaned         int `json:"ghostRowsCleaned"`
	StaleMetadataCount       int `json:"staleMetadataCount"`
	UnassignedCount          int `json:"unassignedCount"`
	InteractionsRecalculated int `json:"interactionsRecalculated"`

	// Definition ids behind the counts; removed ids no longer exist
	AddedDefinitionIDs   []int64 `json:"-"`
	UpdatedDefinitionIDs []int64 `json:"-"`
	RemovedDefinitionIDs []int64 `json:"-"`

	Warnings []FileWarning `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ChangedDefinitions is the number of added plus updated definitions
func (r *SyncResult) ChangedDefinitions() int {
	return len(r.AddedDefinitionIDs) + len(r.UpdatedDefinitionIDs)
}

func (r *SyncResult) warn(path, msg string) {
	r.FilesSkipped++
	r.Warnings = append(r.Warnings, FileWarning{Path: path, Message: msg})
}

// Config configures change detection
type Config struct {
	Excludes         []string // Glob or directory patterns to exclude
	RespectGitignore bool
}

// DefaultConfig returns the default detection configuration
func DefaultConfig() *Config {
	return &Config{RespectGitignore: true}
}
