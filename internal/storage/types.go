package storage

// DefinitionKind classifies a definition
type DefinitionKind string

const (
	KindFunction  DefinitionKind = "function"
	KindMethod    DefinitionKind = "method"
	KindClass     DefinitionKind = "class"
	KindInterface DefinitionKind = "interface"
	KindType      DefinitionKind = "type"
	KindEnum      DefinitionKind = "enum"
	KindConst     DefinitionKind = "const"
	KindVariable  DefinitionKind = "variable"
)

// File represents an indexed source file
type File struct {
	ID          int64  `db:"id"`
	Path        string `db:"path"` // Relative to the repository root, forward slashes
	Language    string `db:"language"`
	ContentHash string `db:"content_hash"`
	SizeBytes   int64  `db:"size_bytes"`
	ModifiedAt  int64  `db:"modified_at"` // Unix seconds
}

// Definition represents a named code entity inside a file
type Definition struct {
	ID              int64          `db:"id"`
	FileID          int64          `db:"file_id"`
	Name            string         `db:"name"`
	Kind            DefinitionKind `db:"kind"`
	IsExported      bool           `db:"is_exported"`
	Line            int            `db:"line"`
	Column          int            `db:"col"`
	EndLine         int            `db:"end_line"`
	EndColumn       int            `db:"end_column"`
	ExtendsName     string         `db:"extends_name"`
	ImplementsNames string         `db:"implements_names"` // Comma-separated
}

// Import represents an import statement of a file
type Import struct {
	ID           int64  `db:"id"`
	FromFileID   int64  `db:"from_file_id"`
	ToFileID     *int64 `db:"to_file_id"`
	Source       string `db:"source"`
	ResolvedPath string `db:"resolved_path"`
	IsExternal   bool   `db:"is_external"`
	IsTypeOnly   bool   `db:"is_type_only"`
	Line         int    `db:"line"`
}

// Symbol kinds
const (
	SymbolNamed     = "named"
	SymbolDefault   = "default"
	SymbolNamespace = "namespace"
	SymbolInternal  = "internal"
)

// Symbol is a reference occurrence, either import-linked (ReferenceID)
// or internal to a file (FileID).
type Symbol struct {
	ID           int64  `db:"id"`
	ReferenceID  *int64 `db:"reference_id"`
	FileID       *int64 `db:"file_id"`
	DefinitionID *int64 `db:"definition_id"`
	Name         string `db:"name"`
	LocalName    string `db:"local_name"`
	Kind         string `db:"kind"`
}

// Usage contexts
const (
	UsageCall      = "call"
	UsageNew       = "new"
	UsageReference = "reference"
)

// Usage is a single call/new/reference site of a symbol
type Usage struct {
	ID            int64  `db:"id"`
	SymbolID      int64  `db:"symbol_id"`
	Line          int    `db:"line"`
	Column        int    `db:"col"`
	Context       string `db:"context"`
	ArgumentCount int    `db:"argument_count"`
	IsMethodCall  bool   `db:"is_method_call"`
	ReceiverName  string `db:"receiver_name"`
}

// DefinitionMetadata is a key/value annotation attached to a definition
type DefinitionMetadata struct {
	ID           int64  `db:"id"`
	DefinitionID int64  `db:"definition_id"`
	Key          string `db:"meta_key"`
	Value        string `db:"meta_value"`
}

// Relationship types
const (
	RelationshipUses       = "uses"
	RelationshipExtends    = "extends"
	RelationshipImplements = "implements"
)

// RelationshipAnnotation is a semantic edge between two definitions
type RelationshipAnnotation struct {
	ID               int64  `db:"id"`
	FromDefinitionID int64  `db:"from_definition_id"`
	ToDefinitionID   int64  `db:"to_definition_id"`
	RelationshipType string `db:"relationship_type"`
	Semantic         string `db:"semantic"`
}

// Module is a node in the module tree
type Module struct {
	ID          int64  `db:"id"`
	ParentID    *int64 `db:"parent_id"`
	Slug        string `db:"slug"`
	FullPath    string `db:"full_path"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Depth       int    `db:"depth"`
	IsTest      bool   `db:"is_test"`
}

// ModuleMember assigns a definition to a module
type ModuleMember struct {
	DefinitionID int64 `db:"definition_id"`
	ModuleID     int64 `db:"module_id"`
	AssignedAt   int64 `db:"assigned_at"`
}

// Interaction directions
const (
	DirectionUni = "uni"
	DirectionBi  = "bi"
)

// Interaction patterns
const (
	PatternUtility      = "utility"
	PatternBusiness     = "business"
	PatternInheritance  = "inheritance"
	PatternTestInternal = "test-internal"
)

// Interaction sources
const (
	SourceAST             = "ast"
	SourceASTImport       = "ast-import"
	SourceLLMInferred     = "llm-inferred"
	SourceContractMatched = "contract-matched"
)

// Interaction is a directed module-to-module edge
type Interaction struct {
	ID           int64   `db:"id"`
	FromModuleID int64   `db:"from_module_id"`
	ToModuleID   int64   `db:"to_module_id"`
	Direction    string  `db:"direction"`
	Weight       int     `db:"weight"`
	Pattern      string  `db:"pattern"`
	Symbols      string  `db:"symbols"` // JSON array of callee names
	Semantic     string  `db:"semantic"`
	Source       string  `db:"source"`
	Confidence   float64 `db:"confidence"`
}

// Flow tiers
const (
	TierGap     = 0
	TierTraced  = 1
	TierJourney = 2
)

// Flow is a persisted traced execution path
type Flow struct {
	ID                 int64  `db:"id"`
	Name               string `db:"name"`
	Slug               string `db:"slug"`
	EntryPointModuleID *int64 `db:"entry_point_module_id"`
	EntryPointID       *int64 `db:"entry_point_id"`
	EntryPath          string `db:"entry_path"`
	Stakeholder        string `db:"stakeholder"`
	Description        string `db:"description"`
	ActionType         string `db:"action_type"`
	TargetEntity       string `db:"target_entity"`
	Tier               int    `db:"tier"`
	CreatedAt          int64  `db:"created_at"`
}

// FlowDefinitionStep is a definition-to-definition edge of a flow
type FlowDefinitionStep struct {
	FlowID           int64 `db:"flow_id"`
	StepOrder        int   `db:"step_order"`
	FromDefinitionID int64 `db:"from_definition_id"`
	ToDefinitionID   int64 `db:"to_definition_id"`
}

// Feature groups flows
type Feature struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	Slug        string `db:"slug"`
	Description string `db:"description"`
}

// CallEdge is one definition-level call: a usage inside Caller resolving to Callee.
type CallEdge struct {
	CallerID       int64          `db:"caller_id"`
	CallerName     string         `db:"caller_name"`
	CalleeID       int64          `db:"callee_id"`
	CalleeName     string         `db:"callee_name"`
	CalleeKind     DefinitionKind `db:"callee_kind"`
	CallerModuleID *int64         `db:"caller_module_id"`
	CalleeModuleID *int64         `db:"callee_module_id"`
	Calls          int            `db:"calls"`
}
