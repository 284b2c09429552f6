package lang

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/cogmem/engine/internal/engerr"
)

// EditKind enumerates the pending-edit taxonomy (spec.md §4.3: "the editor
// holds source bytes, the current parse tree, and an ordered list of
// pending edits (insertion, deletion, replacement)").
type EditKind int

const (
	EditInsert EditKind = iota
	EditDelete
	EditReplace
)

// Edit is one pending mutation against the editor's source bytes.
type Edit struct {
	Kind     EditKind
	Start    uint32
	End      uint32 // ignored for EditInsert
	NewBytes []byte
}

// Editor holds source bytes, the current parse tree, and an ordered list
// of pending edits, applying them bottom-to-top so earlier offsets stay
// valid (spec.md §4.3: "AST editor").
type Editor struct {
	registry *Registry
	lang     Language
	source   []byte
	tree     *sitter.Tree
	pending  []Edit
}

// NewEditor parses source and returns an Editor ready to accept edits.
func NewEditor(ctx context.Context, registry *Registry, l Language, source []byte) (*Editor, error) {
	tree, err := registry.Parse(ctx, l, source)
	if err != nil {
		return nil, err
	}
	return &Editor{registry: registry, lang: l, source: source, tree: tree}, nil
}

// Source returns the editor's current, already-applied source bytes.
func (e *Editor) Source() []byte { return e.source }

// Tree returns the editor's current parse tree.
func (e *Editor) Tree() *sitter.Tree { return e.tree }

// AddEdit appends a raw pending edit.
func (e *Editor) AddEdit(edit Edit) { e.pending = append(e.pending, edit) }

// RenameSymbol replaces every identifier node with text equal to from, found
// via Find, with to.
func (e *Editor) RenameSymbol(from, to string) error {
	res := Find(e.tree.RootNode(), FindConfig{
		Filters:            []NodeFilter{{Kinds: []string{"identifier", "type_identifier", "field_identifier"}}},
		IncludeDescendants: true,
	})
	for _, n := range res.Nodes {
		if n.Content(e.source) == from {
			e.AddEdit(Edit{Kind: EditReplace, Start: n.StartByte(), End: n.EndByte(), NewBytes: []byte(to)})
		}
	}
	return nil
}

// AddImport inserts an import line after the last existing import (or at
// the top of the file if none), using language-appropriate node kinds to
// locate the import block.
func (e *Editor) AddImport(importLine string) error {
	kinds, ok := importNodeKinds[e.lang]
	if !ok {
		return fmt.Errorf("lang: AddImport unsupported for %s", e.lang)
	}
	res := Find(e.tree.RootNode(), FindConfig{Filters: []NodeFilter{{Kinds: kinds}}, IncludeDescendants: true})
	if len(res.Nodes) == 0 {
		e.AddEdit(Edit{Kind: EditInsert, Start: 0, NewBytes: []byte(importLine + "\n")})
		return nil
	}
	last := res.Nodes[len(res.Nodes)-1]
	e.AddEdit(Edit{Kind: EditInsert, Start: last.EndByte(), NewBytes: []byte("\n" + importLine)})
	return nil
}

var importNodeKinds = map[Language][]string{
	LangGo:         {"import_declaration", "import_spec"},
	LangPython:     {"import_statement", "import_from_statement"},
	LangRust:       {"use_declaration"},
	LangJavaScript: {"import_statement"},
	LangTypeScript: {"import_statement"},
}

// OptimizeImports removes duplicate import lines, comparing by exact node
// text; the first occurrence of each distinct import is kept.
func (e *Editor) OptimizeImports() error {
	kinds, ok := importNodeKinds[e.lang]
	if !ok {
		return fmt.Errorf("lang: OptimizeImports unsupported for %s", e.lang)
	}
	res := Find(e.tree.RootNode(), FindConfig{Filters: []NodeFilter{{Kinds: kinds}}, IncludeDescendants: true})

	seen := make(map[string]bool)
	for _, n := range res.Nodes {
		text := n.Content(e.source)
		if seen[text] {
			e.AddEdit(Edit{Kind: EditDelete, Start: n.StartByte(), End: n.EndByte()})
			continue
		}
		seen[text] = true
	}
	return nil
}

// ChangeSignature replaces a function/method's signature text (everything
// up to its body) with newSignature, located by an exact match of funcName
// against the function's own name node; only the first match is changed.
func (e *Editor) ChangeSignature(funcName, newSignature string) error {
	kinds := []string{"function_declaration", "method_declaration", "function_definition", "function_item"}
	res := Find(e.tree.RootNode(), FindConfig{Filters: []NodeFilter{{Kinds: kinds}}, IncludeDescendants: true})

	for _, n := range res.Nodes {
		nameNode := n.ChildByFieldName("name")
		if nameNode == nil || nameNode.Content(e.source) != funcName {
			continue
		}
		body := n.ChildByFieldName("body")
		end := n.EndByte()
		if body != nil {
			end = body.StartByte()
		}
		e.AddEdit(Edit{Kind: EditReplace, Start: n.StartByte(), End: end, NewBytes: []byte(newSignature + " ")})
		return nil
	}
	return &engerr.NotFound{Kind: "function", Key: funcName}
}

// ApplyEdits applies every pending edit bottom-to-top (spec.md §4.3) so
// earlier offsets remain valid, then re-parses to produce a refreshed
// tree. Edits are atomic: on failure the buffer is restored untouched.
func (e *Editor) ApplyEdits(ctx context.Context) error {
	if len(e.pending) == 0 {
		return nil
	}

	edits := make([]Edit, len(e.pending))
	copy(edits, e.pending)
	sort.Slice(edits, func(i, j int) bool { return edits[i].Start > edits[j].Start })

	for i := 1; i < len(edits); i++ {
		if edits[i].Kind != EditInsert && edits[i].End > edits[i-1].Start {
			e.pending = nil
			return &engerr.InvalidInput{What: "overlapping AST edits"}
		}
	}

	var buf strings.Builder
	buf.Write(e.source)
	result := []byte(buf.String())

	for _, ed := range edits {
		switch ed.Kind {
		case EditInsert:
			result = append(result[:ed.Start:ed.Start], append(append([]byte{}, ed.NewBytes...), result[ed.Start:]...)...)
		case EditDelete:
			result = append(result[:ed.Start:ed.Start], result[ed.End:]...)
		case EditReplace:
			tail := append([]byte{}, result[ed.End:]...)
			result = append(result[:ed.Start:ed.Start], append(append([]byte{}, ed.NewBytes...), tail...)...)
		}
	}

	newTree, err := e.registry.Parse(ctx, e.lang, result)
	if err != nil {
		e.pending = nil
		return fmt.Errorf("lang: apply edits reparse: %w", err)
	}

	e.source = result
	e.tree = newTree
	e.pending = nil
	return nil
}
