package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// NodeFilter is one predicate Find can apply to a node. A node matches a
// FindConfig when ANY of its filters accept it (spec.md §4.3, operation 3:
// "filter set composition is disjunctive"). Grounded on
// cortex-code-analysis's analysis/find.rs NodeFilter enum.
type NodeFilter struct {
	Kind string

	Kinds []string

	HasLineRange bool
	LineStart    int
	LineEnd      int

	HasColumnRange bool
	ColLine        int
	ColStart       int
	ColEnd         int

	HasDepthRange bool
	DepthMin      int
	DepthMax      int // 0 means no upper bound
}

func (f NodeFilter) matches(n *sitter.Node, depth int) bool {
	switch {
	case f.Kind != "":
		return n.Type() == f.Kind
	case len(f.Kinds) > 0:
		for _, k := range f.Kinds {
			if n.Type() == k {
				return true
			}
		}
		return false
	case f.HasLineRange:
		start := int(n.StartPoint().Row)
		end := int(n.EndPoint().Row)
		return start >= f.LineStart && end <= f.LineEnd
	case f.HasColumnRange:
		line := int(n.StartPoint().Row)
		col := int(n.StartPoint().Column)
		return line == f.ColLine && col >= f.ColStart && col <= f.ColEnd
	case f.HasDepthRange:
		if depth < f.DepthMin {
			return false
		}
		if f.DepthMax > 0 && depth > f.DepthMax {
			return false
		}
		return true
	default:
		return false
	}
}

// FindConfig configures a traversal over a parsed tree (spec.md §4.3,
// operation 3).
type FindConfig struct {
	Filters            []NodeFilter
	Limit              int // 0 means unlimited
	IncludeDescendants bool
	Deduplicate        bool
}

// FindResult reports a search's matches plus traversal bookkeeping.
type FindResult struct {
	Nodes        []*sitter.Node
	NodesVisited int
	Limited      bool
}

type stackFrame struct {
	node  *sitter.Node
	depth int
}

// Find performs an iterative, stack-based depth-first, left-to-right
// traversal guaranteed to terminate in O(nodes visited), with an optional
// dedup cache keyed by node id (spec.md §4.3, operation 3). Grounded on
// cortex-code-analysis's AstFinder::find.
func Find(root *sitter.Node, cfg FindConfig) FindResult {
	if len(cfg.Filters) == 0 {
		return FindResult{}
	}

	stack := []stackFrame{{node: root, depth: 0}}
	var visited map[uintptr]bool
	if cfg.Deduplicate {
		visited = make(map[uintptr]bool)
	}

	var result FindResult
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		result.NodesVisited++

		if visited != nil {
			id := nodeID(top.node)
			if visited[id] {
				continue
			}
			visited[id] = true
		}

		matched := false
		for _, f := range cfg.Filters {
			if f.matches(top.node, top.depth) {
				matched = true
				break
			}
		}

		if matched {
			result.Nodes = append(result.Nodes, top.node)
			if cfg.Limit > 0 && len(result.Nodes) >= cfg.Limit {
				result.Limited = true
				return result
			}
			if !cfg.IncludeDescendants {
				continue
			}
		}

		for i := int(top.node.NamedChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, stackFrame{node: top.node.NamedChild(i), depth: top.depth + 1})
		}
	}
	return result
}

// FindByKind is a convenience wrapper for the common single-kind search.
func FindByKind(root *sitter.Node, kind string) FindResult {
	return Find(root, FindConfig{Filters: []NodeFilter{{Kind: kind}}, IncludeDescendants: true})
}

// FindFirst returns the first match, if any.
func FindFirst(root *sitter.Node, cfg FindConfig) (*sitter.Node, bool) {
	cfg.Limit = 1
	res := Find(root, cfg)
	if len(res.Nodes) == 0 {
		return nil, false
	}
	return res.Nodes[0], true
}

// nodeID derives a stable per-node identity for dedup purposes from its
// byte range alone, since go-tree-sitter nodes are value types without
// a stable pointer identity across cursor operations. Kind is not part of
// the id, so a child spanning exactly its parent's bytes shares its id.
func nodeID(n *sitter.Node) uintptr {
	return uintptr(n.StartByte())<<32 | uintptr(n.EndByte())
}
