package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// callerKinds are the definition kinds that can contain call sites
const callerKinds = `('function', 'method', 'variable', 'const')`

// CallEdges returns the definition-level call graph: every call/new usage is
// attributed to the innermost callable definition enclosing it in the same file
// and to the definition its symbol resolves to. Edges are aggregated per
// (caller, callee) with a call count, and carry both sides' module assignment.
func CallEdges(q sqlx.Ext) ([]CallEdge, error) {
	var edges []CallEdge
	err := sqlx.Select(q, &edges, `
		SELECT caller.id AS caller_id,
		       caller.name AS caller_name,
		       callee.id AS callee_id,
		       callee.name AS callee_name,
		       callee.kind AS callee_kind,
		       cm.module_id AS caller_module_id,
		       tm.module_id AS callee_module_id,
		       COUNT(*) AS calls
		FROM usages u
		JOIN symbols s ON s.id = u.symbol_id
		LEFT JOIN imports i ON i.id = s.reference_id
		JOIN definitions callee ON callee.id = s.definition_id
		JOIN definitions caller
		  ON caller.file_id = COALESCE(s.file_id, i.from_file_id)
		 AND caller.kind IN `+callerKinds+`
		 AND u.line BETWEEN caller.line AND caller.end_line
		LEFT JOIN module_members cm ON cm.definition_id = caller.id
		LEFT JOIN module_members tm ON tm.definition_id = callee.id
		WHERE u.context IN ('call', 'new')
		  AND caller.id != callee.id
		  AND NOT EXISTS (
		      SELECT 1 FROM definitions inner_def
		      WHERE inner_def.file_id = caller.file_id
		        AND inner_def.id != caller.id
		        AND inner_def.kind IN `+callerKinds+`
		        AND u.line BETWEEN inner_def.line AND inner_def.end_line
		        AND inner_def.line > caller.line
		  )
		GROUP BY caller.id, callee.id
		ORDER BY caller.id, callee.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load call graph: %w", err)
	}
	return edges, nil
}

// ModuleEdge is a call edge summary between two modules
type ModuleEdge struct {
	FromModuleID int64
	ToModuleID   int64
	Edges        []CallEdge
}

// ModuleCallGraph groups definition-level call edges by owning module pair.
// Edges with an unassigned endpoint are dropped; self pairs are kept so callers
// can decide how to treat them.
func ModuleCallGraph(q sqlx.Ext) ([]ModuleEdge, error) {
	edges, err := CallEdges(q)
	if err != nil {
		return nil, err
	}

	type pair struct{ from, to int64 }
	index := make(map[pair]int)
	var out []ModuleEdge
	for _, e := range edges {
		if e.CallerModuleID == nil || e.CalleeModuleID == nil {
			continue
		}
		p := pair{*e.CallerModuleID, *e.CalleeModuleID}
		i, ok := index[p]
		if !ok {
			i = len(out)
			index[p] = i
			out = append(out, ModuleEdge{FromModuleID: p.from, ToModuleID: p.to})
		}
		out[i].Edges = append(out[i].Edges, e)
	}
	return out, nil
}
