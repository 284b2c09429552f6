package lang

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEditorRenameSymbol(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	src := []byte("package p\n\nfunc old() int {\n\treturn old2\n}\n")

	ed, err := NewEditor(ctx, reg, LangGo, src)
	require.NoError(t, err)

	require.NoError(t, ed.RenameSymbol("old", "fresh"))
	require.NoError(t, ed.ApplyEdits(ctx))

	assert.Contains(t, string(ed.Source()), "func fresh() int {")
	assert.Contains(t, string(ed.Source()), "return old2")
}

func TestEditorApplyEditsIsAtomicOnOverlap(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	src := []byte("package p\n\nfunc a() {}\n")

	ed, err := NewEditor(ctx, reg, LangGo, src)
	require.NoError(t, err)

	ed.AddEdit(Edit{Kind: EditReplace, Start: 11, End: 20, NewBytes: []byte("func b()")})
	ed.AddEdit(Edit{Kind: EditReplace, Start: 15, End: 25, NewBytes: []byte("func c()")})

	err = ed.ApplyEdits(ctx)
	require.Error(t, err)
	assert.Equal(t, src, ed.Source(), "source must be restored untouched on overlapping-edit failure")
}

func TestEditorOptimizeImportsDropsDuplicates(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	src := []byte("package p\n\nimport (\n\t\"fmt\"\n\t\"fmt\"\n\t\"os\"\n)\n\nfunc main() {}\n")

	ed, err := NewEditor(ctx, reg, LangGo, src)
	require.NoError(t, err)

	require.NoError(t, ed.OptimizeImports())
	require.NoError(t, ed.ApplyEdits(ctx))

	out := string(ed.Source())
	assert.Equal(t, 1, countOccurrences(out, `"fmt"`))
	assert.Equal(t, 1, countOccurrences(out, `"os"`))
}

func TestEditorChangeSignatureNotFound(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	src := []byte("package p\n\nfunc a() {}\n")

	ed, err := NewEditor(ctx, reg, LangGo, src)
	require.NoError(t, err)

	err = ed.ChangeSignature("nonexistent", "func nonexistent(x int)")
	require.Error(t, err)
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
			i += len(needle) - 1
		}
	}
	return count
}
