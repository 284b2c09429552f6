package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/cogmem/engine/internal/storage"
	"github.com/cogmem/engine/internal/types"
)

// unitNodeKinds maps a tree-sitter node kind to the UnitType it represents
// for a given language, generalizing the teacher's per-language
// extractGoSymbols/extractPythonSymbols switch statements into one
// data-driven table (spec.md §4.3, operation 2: "language-specific
// extractor" producing a common semantic-unit shape).
var unitNodeKinds = map[Language]map[string]types.UnitType{
	LangGo: {
		"function_declaration": types.UnitFunction,
		"method_declaration":   types.UnitMethod,
		"type_declaration":     types.UnitStruct,
	},
	LangPython: {
		"function_definition": types.UnitFunction,
		"class_definition":    types.UnitClass,
	},
	LangRust: {
		"function_item": types.UnitFunction,
		"struct_item":   types.UnitStruct,
		"enum_item":     types.UnitEnum,
		"trait_item":    types.UnitTrait,
		"impl_item":     types.UnitClass,
	},
	LangJavaScript: {
		"function_declaration": types.UnitFunction,
		"method_definition":    types.UnitMethod,
		"class_declaration":    types.UnitClass,
	},
	LangTypeScript: {
		"function_declaration":  types.UnitFunction,
		"method_definition":     types.UnitMethod,
		"class_declaration":     types.UnitClass,
		"interface_declaration": types.UnitInterface,
	},
	LangTSX: {
		"function_declaration":  types.UnitFunction,
		"method_definition":     types.UnitMethod,
		"class_declaration":     types.UnitClass,
		"interface_declaration": types.UnitInterface,
	},
	LangJava: {
		"method_declaration":    types.UnitMethod,
		"class_declaration":     types.UnitClass,
		"interface_declaration": types.UnitInterface,
	},
	LangKotlin: {
		"function_declaration": types.UnitFunction,
		"class_declaration":    types.UnitClass,
	},
	LangCPP: {
		"function_definition": types.UnitFunction,
		"class_specifier":     types.UnitClass,
		"struct_specifier":    types.UnitStruct,
	},
}

// nameFields lists, in priority order, the child field names likely to
// hold a unit's identifier across grammars.
var nameFields = []string{"name", "declarator"}

// ExtractUnits walks tree depth-first, parents before children (spec.md
// §4.3, operation 2), producing SemanticUnit records for every node whose
// kind is recognized for lang.
func ExtractUnits(tree *sitter.Tree, l Language, filePath string, content []byte) []types.SemanticUnit {
	kinds := unitNodeKinds[l]
	if kinds == nil {
		return nil
	}

	var units []types.SemanticUnit
	var parentStack []string

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		kind := n.Type()
		if ut, ok := kinds[kind]; ok {
			unit := buildUnit(n, ut, l, filePath, content, parentStack)
			units = append(units, unit)
			parentStack = append(parentStack, unit.QualifiedName)
			defer func() { parentStack = parentStack[:len(parentStack)-1] }()
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(tree.RootNode())
	return units
}

func buildUnit(n *sitter.Node, ut types.UnitType, l Language, filePath string, content []byte, parentStack []string) types.SemanticUnit {
	name := nodeName(n, content)
	qualified := name
	if len(parentStack) > 0 {
		qualified = strings.Join(parentStack, ".") + "." + name
	}

	body := n.Content(content)
	signature := signatureLine(body)

	unit := types.SemanticUnit{
		UnitType:      ut,
		Name:          name,
		QualifiedName: qualified,
		FilePath:      filePath,
		StartLine:     int(n.StartPoint().Row) + 1,
		EndLine:       int(n.EndPoint().Row) + 1,
		StartCol:      int(n.StartPoint().Column),
		EndCol:        int(n.EndPoint().Column),
		Signature:     signature,
		Body:          body,
		Visibility:    visibilityFor(l, name),
		Metrics:       computeComplexity(n, body),
		Status:        types.UnitStatusActive,
		ContentHash:   storage.HashContent([]byte(body)),
	}
	return unit
}

func nodeName(n *sitter.Node, content []byte) string {
	for _, field := range nameFields {
		if c := n.ChildByFieldName(field); c != nil {
			return c.Content(content)
		}
	}
	return "anonymous"
}

func signatureLine(body string) string {
	if idx := strings.IndexAny(body, "\n{"); idx >= 0 {
		return strings.TrimSpace(body[:idx])
	}
	return strings.TrimSpace(body)
}

// visibilityFor derives visibility from the name alone: Go uses
// leading-case and Python an underscore prefix; every other language is
// reported "public" (visibility keywords such as Rust's pub are not read).
func visibilityFor(l Language, name string) string {
	if name == "" {
		return "private"
	}
	switch l {
	case LangGo:
		r := name[0]
		if r >= 'A' && r <= 'Z' {
			return "public"
		}
		return "private"
	case LangPython:
		if strings.HasPrefix(name, "_") {
			return "private"
		}
		return "public"
	default:
		return "public"
	}
}

// computeComplexity derives the structural metrics spec.md §3 requires
// (cyclomatic, cognitive, nesting, lines) by counting branch-introducing
// node kinds and tracking maximum nesting depth of block-like nodes.
func computeComplexity(n *sitter.Node, body string) types.ComplexityMetrics {
	m := types.ComplexityMetrics{
		Cyclomatic: 1,
		Lines:      strings.Count(body, "\n") + 1,
	}

	var walk func(node *sitter.Node, depth int)
	walk = func(node *sitter.Node, depth int) {
		if depth > m.Nesting {
			m.Nesting = depth
		}
		nextDepth := depth
		switch node.Type() {
		case "if_statement", "for_statement", "while_statement", "switch_statement",
			"case_clause", "catch_clause", "conditional_expression", "match_arm",
			"binary_expression":
			m.Cyclomatic++
			m.Cognitive += 1 + depth
		}
		switch node.Type() {
		case "block", "if_statement", "for_statement", "while_statement", "function_body":
			nextDepth = depth + 1
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i), nextDepth)
		}
	}
	walk(n, 0)
	return m
}
