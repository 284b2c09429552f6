package lang

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogmem/engine/internal/types"
)

func TestExtractUnitsFindsRustFunction(t *testing.T) {
	reg := NewRegistry()
	src := []byte("pub fn add(a:i32,b:i32)->i32{a+b}")

	tree, err := reg.Parse(context.Background(), LangRust, src)
	require.NoError(t, err)
	defer tree.Close()

	units := ExtractUnits(tree, LangRust, "src/lib.rs", src)
	require.Len(t, units, 1)

	u := units[0]
	assert.Equal(t, types.UnitFunction, u.UnitType)
	assert.Equal(t, "add", u.Name)
	assert.Equal(t, "add", u.QualifiedName)
	assert.Equal(t, 1, u.StartLine)
	assert.Equal(t, 1, u.EndLine)
	assert.Equal(t, types.UnitStatusActive, u.Status)
}

func TestExtractUnitsReplacedOnDifferentSignature(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	first, err := reg.Parse(ctx, LangRust, []byte("pub fn add(a:i32,b:i32)->i32{a+b}"))
	require.NoError(t, err)
	defer first.Close()
	firstUnits := ExtractUnits(first, LangRust, "src/lib.rs", []byte("pub fn add(a:i32,b:i32)->i32{a+b}"))
	require.Len(t, firstUnits, 1)
	assert.Equal(t, "add", firstUnits[0].Name)

	second, err := reg.Parse(ctx, LangRust, []byte("pub fn mul(a:i32,b:i32)->i32{a*b}"))
	require.NoError(t, err)
	defer second.Close()
	secondUnits := ExtractUnits(second, LangRust, "src/lib.rs", []byte("pub fn mul(a:i32,b:i32)->i32{a*b}"))
	require.Len(t, secondUnits, 1)
	assert.Equal(t, "mul", secondUnits[0].Name)
	assert.NotEqual(t, firstUnits[0].QualifiedName, secondUnits[0].QualifiedName)
}

func TestParseNeverFailsOnSyntaxErrors(t *testing.T) {
	reg := NewRegistry()
	tree, err := reg.Parse(context.Background(), LangGo, []byte("func broken( {{{"))
	require.NoError(t, err, "parse failures surface as ERROR nodes, not returned errors")
	defer tree.Close()
	assert.True(t, tree.RootNode().HasError())
}

func TestFindIsDeterministic(t *testing.T) {
	reg := NewRegistry()
	src := []byte("package p\nfunc a() {}\nfunc b() {}\nfunc c() {}\n")
	tree, err := reg.Parse(context.Background(), LangGo, src)
	require.NoError(t, err)
	defer tree.Close()

	cfg := FindConfig{Filters: []NodeFilter{{Kind: "function_declaration"}}, IncludeDescendants: true}
	first := Find(tree.RootNode(), cfg)
	second := Find(tree.RootNode(), cfg)

	require.Len(t, first.Nodes, 3)
	require.Len(t, second.Nodes, 3)
	for i := range first.Nodes {
		assert.Equal(t, first.Nodes[i].StartByte(), second.Nodes[i].StartByte())
		assert.Equal(t, first.Nodes[i].EndByte(), second.Nodes[i].EndByte())
	}
}

func TestFindRespectsLimit(t *testing.T) {
	reg := NewRegistry()
	src := []byte("package p\nfunc a() {}\nfunc b() {}\nfunc c() {}\n")
	tree, err := reg.Parse(context.Background(), LangGo, src)
	require.NoError(t, err)
	defer tree.Close()

	res := Find(tree.RootNode(), FindConfig{
		Filters:            []NodeFilter{{Kind: "function_declaration"}},
		IncludeDescendants: true,
		Limit:              2,
	})
	assert.Len(t, res.Nodes, 2)
	assert.True(t, res.Limited)
}

func TestFindDedupPreventsRevisits(t *testing.T) {
	reg := NewRegistry()
	src := []byte("package p\nfunc a() { if true { if true {} } }\n")
	tree, err := reg.Parse(context.Background(), LangGo, src)
	require.NoError(t, err)
	defer tree.Close()

	res := Find(tree.RootNode(), FindConfig{
		Filters:            []NodeFilter{{Kind: "if_statement"}},
		IncludeDescendants: true,
		Deduplicate:        true,
	})
	seen := map[uintptr]bool{}
	for _, n := range res.Nodes {
		id := nodeID(n)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestFindEmptyFilterSetReturnsNothing(t *testing.T) {
	reg := NewRegistry()
	tree, err := reg.Parse(context.Background(), LangGo, []byte("package p\n"))
	require.NoError(t, err)
	defer tree.Close()

	res := Find(tree.RootNode(), FindConfig{})
	assert.Empty(t, res.Nodes)
}

func TestLanguageForExtension(t *testing.T) {
	assert.Equal(t, LangRust, LanguageForExtension(".rs"))
	assert.Equal(t, LangPython, LanguageForExtension(".py"))
	assert.Equal(t, Language(""), LanguageForExtension(".unknown"))
}
