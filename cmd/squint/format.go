package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"squint/internal/dirty"
	"squint/internal/incremental"
	"squint/internal/modules"
	"squint/internal/pipeline"
	"squint/internal/quality"
	"squint/internal/storage"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
)

// SyncResponseCLI is the outcome of index and sync
type SyncResponseCLI struct {
	Sync       *incremental.SyncResult       `json:"sync,omitempty"`
	Decision   *incremental.StrategyDecision `json:"decision,omitempty"`
	Enrichment *pipeline.Result              `json:"enrichment,omitempty"`
}

// DryRunResponseCLI previews a sync without writing
type DryRunResponseCLI struct {
	Added     []string `json:"added"`
	Modified  []string `json:"modified"`
	Deleted   []string `json:"deleted"`
	Unchanged int      `json:"unchanged"`
	Strategy  string   `json:"strategy"`
}

// StatusResponseCLI is the store and dirty-ledger overview
type StatusResponseCLI struct {
	Counts  *storage.Counts  `json:"counts"`
	Dirty   *dirty.Summary   `json:"dirty"`
	LastRun *storage.SyncRun `json:"lastRun,omitempty"`
}

// VerifyResponseCLI carries quality findings and applied fixes
type VerifyResponseCLI struct {
	Report *quality.Report `json:"report"`
	Fixed  int             `json:"fixed,omitempty"`
}

// ModulesResponseCLI lists declarations, after init or check
type ModulesResponseCLI struct {
	Path    string                      `json:"path"`
	Created bool                        `json:"created"`
	Modules []modules.ModuleDeclaration `json:"modules"`
}

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *SyncResponseCLI:
		return formatSyncHuman(v), nil
	case *DryRunResponseCLI:
		return formatDryRunHuman(v), nil
	case *StatusResponseCLI:
		return formatStatusHuman(v), nil
	case *VerifyResponseCLI:
		return formatVerifyHuman(v), nil
	case *ModulesResponseCLI:
		return formatModulesHuman(v), nil
	default:
		return formatJSON(resp)
	}
}

func formatSyncHuman(resp *SyncResponseCLI) string {
	var b strings.Builder
	if resp.Sync != nil {
		b.WriteString(strings.TrimSpace(incremental.FormatResult(resp.Sync)))
		b.WriteString("\n")
		for _, w := range resp.Sync.Warnings {
			fmt.Fprintf(&b, "  warning: %s: %s\n", w.Path, w.Message)
		}
	}
	if resp.Decision != nil {
		fmt.Fprintf(&b, "\nStrategy: %s (%s)\n", resp.Decision.Strategy, resp.Decision.Reason)
	}
	if resp.Enrichment != nil {
		for _, s := range resp.Enrichment.Steps {
			if s.Skipped {
				fmt.Fprintf(&b, "  %-14s skipped\n", s.Name)
				continue
			}
			fmt.Fprintf(&b, "  %-14s drained %d in %v\n", s.Name, s.Drained, s.Duration.Round(time.Millisecond))
		}
	}
	return b.String()
}

func formatDryRunHuman(resp *DryRunResponseCLI) string {
	var b strings.Builder
	b.WriteString("Dry run, nothing written\n\n")
	for _, group := range []struct {
		label string
		paths []string
	}{
		{"added", resp.Added},
		{"modified", resp.Modified},
		{"deleted", resp.Deleted},
	} {
		fmt.Fprintf(&b, "%-9s %d\n", group.label+":", len(group.paths))
		for _, p := range group.paths {
			fmt.Fprintf(&b, "  %s\n", p)
		}
	}
	fmt.Fprintf(&b, "unchanged: %d\n", resp.Unchanged)
	fmt.Fprintf(&b, "\nStrategy: %s\n", resp.Strategy)
	return b.String()
}

func formatStatusHuman(resp *StatusResponseCLI) string {
	var b strings.Builder
	c := resp.Counts
	b.WriteString("Index\n")
	b.WriteString(strings.Repeat("-", 40) + "\n")
	fmt.Fprintf(&b, "  Files:        %d\n", c.Files)
	fmt.Fprintf(&b, "  Definitions:  %d (%d unassigned)\n", c.Definitions, c.Unassigned)
	fmt.Fprintf(&b, "  Imports:      %d\n", c.Imports)
	fmt.Fprintf(&b, "  Symbols:      %d (%d usages)\n", c.Symbols, c.Usages)
	fmt.Fprintf(&b, "  Modules:      %d\n", c.Modules)
	fmt.Fprintf(&b, "  Interactions: %d\n", c.Interactions)
	fmt.Fprintf(&b, "  Flows:        %d\n", c.Flows)
	fmt.Fprintf(&b, "  Features:     %d\n", c.Features)

	b.WriteString("\nDirty\n")
	b.WriteString(strings.Repeat("-", 40) + "\n")
	if resp.Dirty.Total == 0 {
		b.WriteString("  clean\n")
	}
	for _, l := range resp.Dirty.Layers {
		if l.Count > 0 {
			fmt.Fprintf(&b, "  %-14s %d\n", l.Layer, l.Count)
		}
	}

	if resp.LastRun != nil {
		started := time.Unix(resp.LastRun.StartedAt, 0).Format(time.RFC3339)
		fmt.Fprintf(&b, "\nLast sync: %s at %s", resp.LastRun.ID, started)
		if resp.LastRun.Strategy != "" {
			fmt.Fprintf(&b, " (%s: %s)", resp.LastRun.Strategy, resp.LastRun.Reason)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatVerifyHuman(resp *VerifyResponseCLI) string {
	var b strings.Builder
	r := resp.Report
	if len(r.Findings) == 0 {
		b.WriteString("No findings.\n")
	}
	for _, f := range r.Findings {
		fmt.Fprintf(&b, "[%s] %s: %s\n", strings.ToUpper(f.Severity), f.Category, f.Message)
		fmt.Fprintf(&b, "    fix: %s\n", f.Fix.Action)
	}
	fmt.Fprintf(&b, "\n%d errors, %d warnings, %d info\n", r.Summary.Errors, r.Summary.Warnings, r.Summary.Info)
	if resp.Fixed > 0 {
		fmt.Fprintf(&b, "Applied %d fixes. Run 'squint sync' to rebuild affected flows.\n", resp.Fixed)
	}
	return b.String()
}

func formatModulesHuman(resp *ModulesResponseCLI) string {
	var b strings.Builder
	switch {
	case resp.Created:
		fmt.Fprintf(&b, "Wrote %s\n", resp.Path)
	case len(resp.Modules) == 0:
		fmt.Fprintf(&b, "No declarations in %s; modules follow directories\n", resp.Path)
		return strings.TrimRight(b.String(), "\n")
	default:
		fmt.Fprintf(&b, "%s: %d declared modules\n", resp.Path, len(resp.Modules))
	}
	for _, m := range resp.Modules {
		kind := ""
		if m.Test {
			kind = " (test)"
		}
		fmt.Fprintf(&b, "  %s%s  %s\n", m.Path, kind, strings.Join(m.Include, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
