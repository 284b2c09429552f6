package cpreprocessor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogmem/engine/internal/lang"
)

func TestExtractDirectives(t *testing.T) {
	reg := lang.NewRegistry()
	src := []byte("#define N 16\nint arr[N];\n")
	tree, err := reg.Parse(context.Background(), lang.LangCPP, src)
	require.NoError(t, err)
	defer tree.Close()

	directives := ExtractDirectives(tree, src)
	require.Len(t, directives, 1)
	assert.Equal(t, "define", directives[0].Kind)
	assert.Equal(t, "N", directives[0].Name)
	assert.Equal(t, "16", directives[0].Body)
}

func TestBuildIncludeGraphAndTransitiveIncludes(t *testing.T) {
	reg := lang.NewRegistry()
	sources := map[string][]byte{
		"a.h": []byte("#include \"b.h\"\n"),
		"b.h": []byte("#include \"c.h\"\n"),
		"c.h": []byte("int x;\n"),
	}
	graph, err := BuildIncludeGraph(context.Background(), reg, sources)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"b.h"}, graph["a.h"])
	assert.ElementsMatch(t, []string{"b.h", "c.h"}, graph.TransitiveIncludes("a.h"))
}

func TestVisibleMacrosUnionsTransitiveIncludes(t *testing.T) {
	perFile := map[string][]Directive{
		"a.c": {{Kind: "define", Name: "FOO", Body: "1"}},
		"a.h": {{Kind: "define", Name: "BAR", Body: "2"}},
	}
	graph := IncludeGraph{"a.c": {"a.h"}}

	visible := VisibleMacros("a.c", perFile, graph)
	assert.Contains(t, visible, "FOO")
	assert.Contains(t, visible, "BAR")
}

func TestReplaceMacrosPreservesLength(t *testing.T) {
	src := []byte("#define N 16\nint arr[N];")
	macros := MacroSet{"N": Directive{Kind: "define", Name: "N"}}

	out := ReplaceMacros(src, macros)
	require.Equal(t, len(src), len(out))
	assert.Contains(t, string(out), "int arr[")
	assert.Contains(t, string(out), "];")
	assert.NotContains(t, string(out[13:]), "N")
}

func TestReplaceMacrosSkipsExcludedIdentifiers(t *testing.T) {
	src := []byte("int x = INT32_MAX;")
	macros := MacroSet{"INT32_MAX": Directive{Kind: "define", Name: "INT32_MAX"}}

	out := ReplaceMacros(src, macros)
	assert.Equal(t, src, out, "curated language-defined identifiers are never replaced even if named as a macro")
}

func TestReplaceMacrosNoOpWhenEmpty(t *testing.T) {
	src := []byte("int x;")
	out := ReplaceMacros(src, MacroSet{})
	assert.Equal(t, src, out)
}
