package export

import (
	"fmt"
	"sort"
	"strings"
)

// Organizer groups an export for human reading: features first, each with
// its flows, then the flows no feature claims.
type Organizer struct {
	export *GraphExport
}

// NewOrganizer creates a new organizer.
func NewOrganizer(export *GraphExport) *Organizer {
	return &Organizer{export: export}
}

// FeatureSection is a feature with its flows resolved
type FeatureSection struct {
	Feature ExportFeature
	Flows   []ExportFlow
}

// OrganizedExport is the grouped view
type OrganizedExport struct {
	Features   []FeatureSection
	Ungrouped  []ExportFlow
	TopModules []ExportModule // busiest modules by member count
}

// maxTopModules bounds the module table
const maxTopModules = 10

// Organize groups flows under their features.
func (o *Organizer) Organize() *OrganizedExport {
	org := &OrganizedExport{}
	if o.export == nil {
		return org
	}
	bySlug := make(map[string]ExportFlow, len(o.export.Flows))
	for _, f := range o.export.Flows {
		bySlug[f.Slug] = f
	}

	claimed := make(map[string]bool)
	for _, feat := range o.export.Features {
		sec := FeatureSection{Feature: feat}
		for _, slug := range feat.Flows {
			if f, ok := bySlug[slug]; ok {
				sec.Flows = append(sec.Flows, f)
				claimed[slug] = true
			}
		}
		org.Features = append(org.Features, sec)
	}
	for _, f := range o.export.Flows {
		if !claimed[f.Slug] {
			org.Ungrouped = append(org.Ungrouped, f)
		}
	}

	mods := append([]ExportModule(nil), o.export.Modules...)
	sort.SliceStable(mods, func(i, j int) bool { return mods[i].Members > mods[j].Members })
	for _, m := range mods {
		if len(org.TopModules) == maxTopModules || m.Members == 0 {
			break
		}
		org.TopModules = append(org.TopModules, m)
	}
	return org
}

// FormatText renders the organized export as markdown.
func FormatText(export *GraphExport) string {
	org := NewOrganizer(export).Organize()
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Flows of %s\n", export.Metadata.Repo)
	fmt.Fprintf(&sb, "# Generated: %s\n", export.Metadata.Generated)
	fmt.Fprintf(&sb, "# Modules: %d | Interactions: %d | Flows: %d | Features: %d\n\n",
		export.Metadata.ModuleCount, export.Metadata.InteractionCount,
		export.Metadata.FlowCount, export.Metadata.FeatureCount)

	if len(org.TopModules) > 0 {
		sb.WriteString("## Module Map\n\n")
		sb.WriteString("| Module | Definitions |\n")
		sb.WriteString("|--------|-------------|\n")
		for _, m := range org.TopModules {
			fmt.Fprintf(&sb, "| %s | %d |\n", m.Path, m.Members)
		}
		sb.WriteString("\n")
	}

	for _, sec := range org.Features {
		fmt.Fprintf(&sb, "## %s\n\n", sec.Feature.Name)
		if sec.Feature.Description != "" {
			sb.WriteString(sec.Feature.Description + "\n\n")
		}
		for _, f := range sec.Flows {
			writeFlow(&sb, f)
		}
		sb.WriteString("\n")
	}
	if len(org.Ungrouped) > 0 {
		sb.WriteString("## Other flows\n\n")
		for _, f := range org.Ungrouped {
			writeFlow(&sb, f)
		}
	}
	return sb.String()
}

func writeFlow(sb *strings.Builder, f ExportFlow) {
	line := fmt.Sprintf("- %s [%s]", f.Name, f.Tier)
	if f.Action != "" || f.Entity != "" {
		line += fmt.Sprintf(" %s %s", f.Action, f.Entity)
	}
	if f.EntryPoint != "" {
		line += fmt.Sprintf(" (from %s in %s)", f.EntryPoint, f.EntryModule)
	}
	sb.WriteString(line + "\n")
	for _, s := range f.Steps {
		fmt.Fprintf(sb, "    %s\n", s)
	}
	for _, s := range f.Subflows {
		fmt.Fprintf(sb, "    > %s\n", s)
	}
}
