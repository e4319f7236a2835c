// Package export writes the derived graph (modules, interactions, flows and
// features) as YAML, optionally zstd-compressed.
package export

import "squint/internal/storage"

// GraphExport is the exported document
type GraphExport struct {
	Metadata     ExportMetadata      `yaml:"metadata" json:"metadata"`
	Modules      []ExportModule      `yaml:"modules" json:"modules"`
	Interactions []ExportInteraction `yaml:"interactions" json:"interactions"`
	Flows        []ExportFlow        `yaml:"flows" json:"flows"`
	Features     []ExportFeature     `yaml:"features" json:"features"`
}

// ExportMetadata describes the export
type ExportMetadata struct {
	Repo             string `yaml:"repo" json:"repo"`
	Generated        string `yaml:"generated" json:"generated"` // RFC 3339
	ModuleCount      int    `yaml:"moduleCount" json:"moduleCount"`
	InteractionCount int    `yaml:"interactionCount" json:"interactionCount"`
	FlowCount        int    `yaml:"flowCount" json:"flowCount"`
	FeatureCount     int    `yaml:"featureCount" json:"featureCount"`
}

// ExportModule is a module with its member count
type ExportModule struct {
	Path        string `yaml:"path" json:"path"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Members     int    `yaml:"members" json:"members"`
	IsTest      bool   `yaml:"isTest,omitempty" json:"isTest,omitempty"`
}

// ExportInteraction is a module-to-module edge
type ExportInteraction struct {
	From      string   `yaml:"from" json:"from"`
	To        string   `yaml:"to" json:"to"`
	Direction string   `yaml:"direction" json:"direction"`
	Pattern   string   `yaml:"pattern" json:"pattern"`
	Weight    int      `yaml:"weight" json:"weight"`
	Symbols   []string `yaml:"symbols,omitempty" json:"symbols,omitempty"`
	Semantic  string   `yaml:"semantic,omitempty" json:"semantic,omitempty"`
	Source    string   `yaml:"source" json:"source"`
}

// ExportFlow is a flow with its steps spelled out by name
type ExportFlow struct {
	Slug        string   `yaml:"slug" json:"slug"`
	Name        string   `yaml:"name" json:"name"`
	Tier        string   `yaml:"tier" json:"tier"`
	Stakeholder string   `yaml:"stakeholder,omitempty" json:"stakeholder,omitempty"`
	Action      string   `yaml:"action,omitempty" json:"action,omitempty"`
	Entity      string   `yaml:"entity,omitempty" json:"entity,omitempty"`
	EntryModule string   `yaml:"entryModule,omitempty" json:"entryModule,omitempty"`
	EntryPoint  string   `yaml:"entryPoint,omitempty" json:"entryPoint,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []string `yaml:"steps,omitempty" json:"steps,omitempty"` // "from -> to" module paths
	Subflows    []string `yaml:"subflows,omitempty" json:"subflows,omitempty"`
}

// ExportFeature is a feature with its flow slugs
type ExportFeature struct {
	Slug        string   `yaml:"slug" json:"slug"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Flows       []string `yaml:"flows" json:"flows"`
}

// ExportOptions configures the export
type ExportOptions struct {
	RepoRoot        string // Repository root path, used for the repo name
	IncludeGapFlows bool   // Include tier-0 gap flows
	IncludeTests    bool   // Include test modules and their interactions
}

// Tier names
const (
	TierNameGap     = "gap"
	TierNameTraced  = "traced"
	TierNameJourney = "journey"
)

// TierName returns the display name of a flow tier
func TierName(tier int) string {
	switch tier {
	case storage.TierGap:
		return TierNameGap
	case storage.TierJourney:
		return TierNameJourney
	default:
		return TierNameTraced
	}
}
