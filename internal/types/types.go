// Package types defines the entity families shared across the engine's
// layers (spec.md §3). Identifiers are opaque strings (UUIDv4), stable
// across renames, globally unique within a running engine instance.
package types

import "time"

// SyncSourceKind enumerates how a workspace's VFS tree stays synchronized
// with something outside the engine.
type SyncSourceKind string

const (
	SyncSourceLocalWatcher    SyncSourceKind = "local_watcher"
	SyncSourceExternalProject SyncSourceKind = "external_project"
	SyncSourceForkParent      SyncSourceKind = "fork_parent"
)

// SyncSource describes one external origin a workspace tracks.
type SyncSource struct {
	Kind SyncSourceKind
	Path string
}

// Workspace is the root of isolation: every VNode and SemanticUnit belongs
// to exactly one workspace.
type Workspace struct {
	ID              string
	Name            string
	Namespace       string
	SyncSources     []SyncSource
	ReadOnly        bool
	ParentWorkspace string // non-empty iff forked
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NodeType distinguishes files from directories in the VFS tree.
type NodeType string

const (
	NodeTypeFile      NodeType = "file"
	NodeTypeDirectory NodeType = "directory"
)

// SyncState tracks a VNode's relationship to any external sync source.
type SyncState string

const (
	SyncStateUnsynced     SyncState = "unsynced"
	SyncStateSynchronized SyncState = "synchronized"
	SyncStateDirty        SyncState = "dirty"
	SyncStateConflicted   SyncState = "conflicted"
)

// VNode is a path-addressed node in a workspace's virtual filesystem tree.
type VNode struct {
	WorkspaceID string
	Path        string // canonical, Unix-style, no "..", no leading "/"
	NodeType    NodeType
	ContentHash string // BLAKE3 hex digest, files only
	SizeBytes   int64
	Language    string
	ReadOnly    bool
	SourcePath  string
	SyncState   SyncState
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ContentBlob is immutable, value-typed content keyed by its hash.
type ContentBlob struct {
	Hash     string
	Data     []byte
	Refcount int64
}

// UnitType enumerates the kinds of semantic units the Code Analysis layer
// can extract.
type UnitType string

const (
	UnitFunction  UnitType = "function"
	UnitMethod    UnitType = "method"
	UnitStruct    UnitType = "struct"
	UnitEnum      UnitType = "enum"
	UnitTrait     UnitType = "trait"
	UnitClass     UnitType = "class"
	UnitInterface UnitType = "interface"
	UnitModule    UnitType = "module"
	UnitField     UnitType = "field"
)

// UnitStatus tracks a semantic unit's lifecycle across reparses.
type UnitStatus string

const (
	UnitStatusActive   UnitStatus = "active"
	UnitStatusReplaced UnitStatus = "replaced"
	UnitStatusDeleted  UnitStatus = "deleted"
)

// ComplexityMetrics holds the structural metrics computed during extraction.
type ComplexityMetrics struct {
	Cyclomatic int
	Cognitive  int
	Nesting    int
	Lines      int
}

// SemanticUnit is a named code region extracted by parsing (spec.md §3).
type SemanticUnit struct {
	ID             string
	WorkspaceID    string
	UnitType       UnitType
	Name           string
	QualifiedName  string
	FilePath       string
	StartLine      int
	EndLine        int
	StartCol       int
	EndCol         int
	Signature      string
	Body           string
	Docstring      string
	Visibility     string
	Modifiers      []string
	Parameters     []string
	ReturnType     string
	Metrics        ComplexityMetrics
	Status         UnitStatus
	Embedding      []float32
	ContentHash    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DependencyType enumerates the relationship kinds between two semantic units.
type DependencyType string

const (
	DepCalls      DependencyType = "calls"
	DepImports    DependencyType = "imports"
	DepImplements DependencyType = "implements"
	DepExtends    DependencyType = "extends"
	DepReferences DependencyType = "references"
	DepContains   DependencyType = "contains"
	DepUses       DependencyType = "uses"
)

// DependencyEdge is a directed, typed relationship between two semantic units.
type DependencyEdge struct {
	FromID  string
	ToID    string
	DepType DependencyType
}

// Outcome enumerates how an episode concluded.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomePartial   Outcome = "partial"
	OutcomeFailure   Outcome = "failure"
	OutcomeAbandoned Outcome = "abandoned"
)

// Episode is an immutable (except for access bookkeeping) record of
// something an external collaborator did (spec.md §3).
type Episode struct {
	ID                string
	AgentID           string
	WorkspaceID       string
	EpisodeType       string
	TaskDescription   string
	EntitiesCreated   []string
	EntitiesModified  []string
	QueriesMade       []string
	ToolsUsed         []string
	LessonsLearned    []string
	Outcome           Outcome
	DurationSeconds   float64
	TokensUsed        int64
	Importance        float64
	AccessCount       int64
	SharedWith        []string
	CreatedAt         time.Time
	LastAccessedAt    time.Time
}

// Priority enumerates working-memory item retention priority.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// priorityRank orders priorities for eviction (lower rank evicted first).
var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Rank returns p's eviction rank; higher ranks are evicted later.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityMedium]
}

// WorkingItem is an ephemeral, session-scoped working-memory entry.
type WorkingItem struct {
	Key          string
	AgentID      string
	SessionID    string
	Content      []byte
	Priority     Priority
	ByteSize     int64
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
}

// Pattern is a learned, generalized solution template (spec.md §3).
type Pattern struct {
	ID          string
	WorkspaceID string
	PatternType string
	Description string
	Context     string
	Solution    string
	Examples    []string
	SuccessRate float64
	UsageCount  int64
	Confidence  float64
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
