// Package lang implements Code Analysis (spec.md §4.3): a multi-language
// parser on tree-sitter grammars exposing Parse, ExtractUnits, Find, and
// Alterate, plus an AST Editor. Grounded on the teacher's
// internal/world/ast_treesitter.go (per-language *sitter.Parser pooling)
// and internal/world/parser_factory.go (extension-to-language routing),
// generalized from the teacher's Mangle-fact emission into this engine's
// common types.SemanticUnit shape.
package lang

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/cogmem/engine/internal/obslog"
)

// Language identifies one of the grammars the engine is validated on
// (spec.md §4.3: "Rust, TypeScript/TSX, JavaScript/JSX, Python, C++, Java,
// Kotlin").
type Language string

const (
	LangGo         Language = "go"
	LangRust       Language = "rust"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	LangJavaScript Language = "javascript"
	LangPython     Language = "python"
	LangCPP        Language = "cpp"
	LangJava       Language = "java"
	LangKotlin     Language = "kotlin"
)

func grammarFor(l Language) *sitter.Language {
	switch l {
	case LangGo:
		return golang.GetLanguage()
	case LangRust:
		return rust.GetLanguage()
	case LangTypeScript:
		return typescript.GetLanguage()
	case LangTSX:
		return tsx.GetLanguage()
	case LangJavaScript:
		return javascript.GetLanguage()
	case LangPython:
		return python.GetLanguage()
	case LangCPP:
		return cpp.GetLanguage()
	case LangJava:
		return java.GetLanguage()
	case LangKotlin:
		return kotlin.GetLanguage()
	default:
		return nil
	}
}

// Registry pools one *sitter.Parser per language (tree-sitter parsers are
// not safe for concurrent use, so each checkout gets exclusive use of its
// instance) grounded on the teacher's sync.Pool-of-parsers idiom.
type Registry struct {
	pools sync.Map // Language -> *sync.Pool
}

// NewRegistry constructs an empty parser registry; pools are created
// lazily per language on first use.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) poolFor(l Language) *sync.Pool {
	if p, ok := r.pools.Load(l); ok {
		return p.(*sync.Pool)
	}
	grammar := grammarFor(l)
	p := &sync.Pool{
		New: func() any {
			parser := sitter.NewParser()
			if grammar != nil {
				parser.SetLanguage(grammar)
			}
			return parser
		},
	}
	actual, _ := r.pools.LoadOrStore(l, p)
	return actual.(*sync.Pool)
}

// Parse parses content as language l, returning a tree-sitter tree. Parse
// errors are represented as ERROR nodes inside the tree, never as a
// returned error (spec.md §4.3, operation 1) — the returned error
// indicates only that the language is unsupported or the parse could not
// start at all.
func (r *Registry) Parse(ctx context.Context, l Language, content []byte) (*sitter.Tree, error) {
	if grammarFor(l) == nil {
		return nil, fmt.Errorf("lang: unsupported language %q", l)
	}
	pool := r.poolFor(l)
	parser := pool.Get().(*sitter.Parser)
	defer pool.Put(parser)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("lang: parse %s: %w", l, err)
	}
	return tree, nil
}

// LanguageForExtension maps a file extension (with leading dot) to the
// Language Code Analysis should use, or "" if unsupported.
func LanguageForExtension(ext string) Language {
	switch ext {
	case ".go":
		return LangGo
	case ".rs":
		return LangRust
	case ".ts":
		return LangTypeScript
	case ".tsx":
		return LangTSX
	case ".js", ".jsx":
		return LangJavaScript
	case ".py":
		return LangPython
	case ".c", ".h", ".cc", ".cpp", ".hpp", ".cxx":
		return LangCPP
	case ".java":
		return LangJava
	case ".kt", ".kts":
		return LangKotlin
	default:
		return ""
	}
}

var log = obslog.Get(obslog.CategoryWorld)
