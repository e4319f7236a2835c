package export

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"squint/internal/dirty"
	"squint/internal/features"
	"squint/internal/flows"
	"squint/internal/slogutil"
	"squint/internal/storage"
	"squint/internal/testutil"
)

// buildExport enriches a small graph and exports it
func buildExport(t *testing.T, opts ExportOptions) *GraphExport {
	t.Helper()
	g := testutil.NewGraph(t)
	q := g.Q()
	handler := g.Func("project.api", "src/api/users.ts", "getUser", 1, 10)
	query := g.Func("project.db", "src/db/query.ts", "query", 1, 5)
	g.Call(handler, query, 2)
	g.Interaction("project.api", "project.db", storage.SourceAST)
	g.Interaction("project.db", "project.cache", storage.SourceLLMInferred)
	g.Interaction("project.api.tests", "project.api", storage.SourceAST)

	logger := slogutil.NewDiscardLogger()
	tracker := dirty.NewTracker(q)
	builder := flows.NewBuilder(flows.NewClassifier(nil, 10, 0, logger), flows.DefaultOptions(), logger)
	if _, err := builder.Rebuild(context.Background(), q, tracker, true); err != nil {
		t.Fatal(err)
	}
	if _, err := features.GroupFlows(q, tracker, true, logger); err != nil {
		t.Fatal(err)
	}

	opts.RepoRoot = "/work/shop"
	export, err := NewExporter(logger).Export(q, opts)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	return export
}

func TestExport(t *testing.T) {
	export := buildExport(t, ExportOptions{})

	m := export.Metadata
	if m.Repo != "shop" || m.ModuleCount != 4 || m.InteractionCount != 2 || m.FlowCount != 1 || m.FeatureCount != 1 {
		t.Errorf("metadata = %+v", m)
	}
	for _, mod := range export.Modules {
		if mod.IsTest {
			t.Errorf("test module exported: %s", mod.Path)
		}
		if mod.Path == "project.api" && mod.Members != 1 {
			t.Errorf("project.api members = %d, want 1", mod.Members)
		}
	}

	f := export.Flows[0]
	if f.Slug != "getuser" || f.Tier != TierNameTraced || f.EntryPoint != "getUser" || f.EntryModule != "project.api" {
		t.Errorf("flow = %+v", f)
	}
	if len(f.Steps) != 1 || f.Steps[0] != "project.api -> project.db" {
		t.Errorf("steps = %v", f.Steps)
	}

	feat := export.Features[0]
	if feat.Name != "api" || len(feat.Flows) != 1 || feat.Flows[0] != "getuser" {
		t.Errorf("feature = %+v", feat)
	}
}

func TestExport_GapsAndTests(t *testing.T) {
	export := buildExport(t, ExportOptions{IncludeGapFlows: true, IncludeTests: true})
	m := export.Metadata
	if m.ModuleCount != 5 || m.InteractionCount != 3 || m.FlowCount != 3 {
		t.Errorf("metadata = %+v", m)
	}
	gaps := 0
	for _, f := range export.Flows {
		if f.Tier == TierNameGap {
			gaps++
		}
	}
	if gaps != 2 {
		t.Errorf("gap flows = %d, want 2", gaps)
	}
}

func TestWriteFile_RoundTrip(t *testing.T) {
	export := buildExport(t, ExportOptions{IncludeGapFlows: true})
	dir := t.TempDir()

	for _, name := range []string{"graph.yaml", "graph.yaml.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := WriteFile(path, export); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			compressed := bytes.HasPrefix(raw, []byte{0x28, 0xb5, 0x2f, 0xfd})
			if compressed != strings.HasSuffix(name, CompressedExt) {
				t.Errorf("compressed = %v for %s", compressed, name)
			}

			got, err := ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile() error = %v", err)
			}
			if got.Metadata != export.Metadata {
				t.Errorf("metadata = %+v, want %+v", got.Metadata, export.Metadata)
			}
			if len(got.Flows) != len(export.Flows) || got.Flows[0].Slug != export.Flows[0].Slug {
				t.Errorf("flows = %+v", got.Flows)
			}
		})
	}
}

func TestTierName(t *testing.T) {
	tests := []struct {
		tier int
		want string
	}{
		{storage.TierGap, TierNameGap},
		{storage.TierTraced, TierNameTraced},
		{storage.TierJourney, TierNameJourney},
	}
	for _, tt := range tests {
		if got := TierName(tt.tier); got != tt.want {
			t.Errorf("TierName(%d) = %q, want %q", tt.tier, got, tt.want)
		}
	}
}

func TestFormatText(t *testing.T) {
	export := buildExport(t, ExportOptions{IncludeGapFlows: true})
	text := FormatText(export)
	for _, want := range []string{
		"# Flows of shop",
		"## api",
		"- getUser [traced]",
		"    project.api -> project.db",
		"## Other flows",
		"| project.api | 1 |",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("FormatText() missing %q:\n%s", want, text)
		}
	}
}
