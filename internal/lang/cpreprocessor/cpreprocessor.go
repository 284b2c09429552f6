// Package cpreprocessor implements the C/C++ preprocessor support Code
// Analysis needs before re-parsing C/C++ sources (spec.md §4.3): directive
// extraction, an include graph, visible-macro computation, and
// length-preserving macro-identifier replacement. Built on the same
// tree-sitter registry and Find traversal internal/lang uses elsewhere,
// since cpp.GetLanguage() already exposes preproc_include/
// preproc_def/preproc_function_def node kinds.
package cpreprocessor

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/cogmem/engine/internal/lang"
)

// Directive is one #include or #define found in a file.
type Directive struct {
	Kind string // "include" or "define"
	Name string // included path, or defined macro name
	Args []string
	Body string // macro replacement text, empty for includes
	Line int
}

// ExtractDirectives walks a parsed C/C++ tree for preproc_include and
// preproc_def/preproc_function_def nodes.
func ExtractDirectives(tree *sitter.Tree, content []byte) []Directive {
	root := tree.RootNode()
	var out []Directive

	includes := lang.Find(root, lang.FindConfig{Filters: []lang.NodeFilter{{Kind: "preproc_include"}}, IncludeDescendants: true})
	for _, n := range includes.Nodes {
		path := n.ChildByFieldName("path")
		name := ""
		if path != nil {
			name = strings.Trim(path.Content(content), "<>\"")
		}
		out = append(out, Directive{Kind: "include", Name: name, Line: int(n.StartPoint().Row) + 1})
	}

	defines := lang.Find(root, lang.FindConfig{
		Filters:            []lang.NodeFilter{{Kinds: []string{"preproc_def", "preproc_function_def"}}},
		IncludeDescendants: true,
	})
	for _, n := range defines.Nodes {
		nameNode := n.ChildByFieldName("name")
		valueNode := n.ChildByFieldName("value")
		name, body := "", ""
		if nameNode != nil {
			name = nameNode.Content(content)
		}
		if valueNode != nil {
			body = valueNode.Content(content)
		}
		var args []string
		if params := n.ChildByFieldName("parameters"); params != nil {
			for i := 0; i < int(params.NamedChildCount()); i++ {
				args = append(args, params.NamedChild(i).Content(content))
			}
		}
		out = append(out, Directive{Kind: "define", Name: name, Args: args, Body: body, Line: int(n.StartPoint().Row) + 1})
	}
	return out
}

// IncludeGraph maps each file to the files it directly includes.
type IncludeGraph map[string][]string

// BuildIncludeGraph parses every file in sources and records its direct
// #include targets.
func BuildIncludeGraph(ctx context.Context, registry *lang.Registry, sources map[string][]byte) (IncludeGraph, error) {
	graph := make(IncludeGraph, len(sources))
	for path, content := range sources {
		tree, err := registry.Parse(ctx, lang.LangCPP, content)
		if err != nil {
			return nil, err
		}
		var includes []string
		for _, d := range ExtractDirectives(tree, content) {
			if d.Kind == "include" {
				includes = append(includes, d.Name)
			}
		}
		graph[path] = includes
		tree.Close()
	}
	return graph, nil
}

// TransitiveIncludes returns every file transitively reachable from file
// via the include graph, not including file itself.
func (g IncludeGraph) TransitiveIncludes(file string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(f string) {
		for _, inc := range g[f] {
			if seen[inc] {
				continue
			}
			seen[inc] = true
			walk(inc)
		}
	}
	walk(file)
	delete(seen, file)
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	return out
}

// MacroSet is the set of macro names visible in a file: its own defines
// union every transitively included file's defines (spec.md §4.3).
type MacroSet map[string]Directive

// VisibleMacros computes the macro set visible in file, given every
// source file's own directives and the include graph.
func VisibleMacros(file string, perFileDirectives map[string][]Directive, graph IncludeGraph) MacroSet {
	out := make(MacroSet)
	addDefines := func(f string) {
		for _, d := range perFileDirectives[f] {
			if d.Kind == "define" && !excludedIdentifiers[d.Name] {
				out[d.Name] = d
			}
		}
	}
	addDefines(file)
	for _, inc := range graph.TransitiveIncludes(file) {
		addDefines(inc)
	}
	return out
}

// excludedIdentifiers is the curated list of language-defined identifiers
// (types, keywords, platform predefined macros) excluded from both macro
// detection and replacement (spec.md §4.3).
var excludedIdentifiers = map[string]bool{
	"INT32_MAX": true, "INT32_MIN": true, "INT64_MAX": true, "INT64_MIN": true,
	"UINT32_MAX": true, "UINT64_MAX": true, "SIZE_MAX": true,
	"PRId64": true, "PRIu64": true, "PRIx64": true, "PRId32": true, "PRIu32": true,
	"NULL": true, "TRUE": true, "FALSE": true, "EOF": true,
	"int": true, "char": true, "float": true, "double": true, "void": true,
	"long": true, "short": true, "unsigned": true, "signed": true,
	"struct": true, "union": true, "enum": true, "typedef": true, "const": true,
	"static": true, "extern": true, "volatile": true, "inline": true,
	"if": true, "else": true, "for": true, "while": true, "do": true,
	"switch": true, "case": true, "default": true, "break": true, "continue": true,
	"return": true, "goto": true, "sizeof": true,
}

// ReplaceMacros rewrites every occurrence of a visible macro identifier in
// source with a same-length `$`-padding string so byte offsets are
// preserved, letting the result re-parse as harmless identifiers (spec.md
// §4.3: "macro identifiers in the source are replaced with $-padding
// strings of identical length"). Excluded identifiers are never replaced.
func ReplaceMacros(source []byte, macros MacroSet) []byte {
	if len(macros) == 0 {
		return source
	}
	out := make([]byte, len(source))
	copy(out, source)

	i := 0
	for i < len(out) {
		if !isIdentStart(out[i]) {
			i++
			continue
		}
		j := i + 1
		for j < len(out) && isIdentCont(out[j]) {
			j++
		}
		word := string(out[i:j])
		if _, isMacro := macros[word]; isMacro && !excludedIdentifiers[word] {
			for k := i; k < j; k++ {
				out[k] = '$'
			}
		}
		i = j
	}
	return out
}

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isIdentCont(b byte) bool {
	return isIdentStart(b) || (b >= '0' && b <= '9')
}
