package graphquery

// HydrateFromEdges loads dependency edges as depends_on facts, mirroring
// the teacher's HydrateKnowledgeGraph. It adds to the existing facts
// rather than replacing them, so semantic memory's Associate calls it
// with a single edge each time to keep Mangle's fact store in step with
// the dependency_edges table.
func (e *Engine) HydrateFromEdges(edges []DependencyEdge) error {
	facts := make([]Fact, 0, len(edges))
	for _, edge := range edges {
		facts = append(facts, Fact{
			Predicate: "depends_on",
			Args:      []any{edge.FromID, edge.ToID, string(edge.DepType)},
		})
	}
	return e.AddFacts(facts)
}

// DependencyEdge is the minimal shape HydrateFromEdges needs, kept
// independent of internal/types to avoid an import cycle (semantic memory
// imports graphquery, not the reverse).
type DependencyEdge struct {
	FromID  string
	ToID    string
	DepType string
}
