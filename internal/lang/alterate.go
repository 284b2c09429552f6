package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// AlterateConfig configures an AST transform (spec.md §4.3, operation 4).
// Grounded on cortex-code-analysis's analysis/alterator.rs TransformConfig.
type AlterateConfig struct {
	IncludeSpans      bool
	ExtractText       bool
	FilterComments    bool
	MaxDepth          int // 0 means unlimited
	KindTransforms    map[string]string
	PreserveWhitespace bool
}

// AlteratedNode is the transformed tree's node shape: comments may be
// dropped, node kinds rewritten per KindTransforms, and leaves may carry
// extracted text and span.
type AlteratedNode struct {
	Kind     string
	Children []*AlteratedNode
	Text     string // only set for leaves when ExtractText is true
	HasSpan  bool
	StartRow int
	StartCol int
	EndRow   int
	EndCol   int
}

var commentKinds = map[string]bool{
	"comment":       true,
	"line_comment":  true,
	"block_comment": true,
}

// Alterate produces a transformed tree per cfg (spec.md §4.3, operation 4).
// Traversal only descends named children, so unnamed punctuation/whitespace
// tokens never appear. PreserveWhitespace is not read: leaf text (when
// ExtractText is set) is always the node's raw content, untrimmed.
func Alterate(root *sitter.Node, content []byte, cfg AlterateConfig) *AlteratedNode {
	return alterateNode(root, content, cfg, 0)
}

func alterateNode(n *sitter.Node, content []byte, cfg AlterateConfig, depth int) *AlteratedNode {
	if cfg.FilterComments && commentKinds[n.Type()] {
		return nil
	}

	kind := n.Type()
	if cfg.KindTransforms != nil {
		if mapped, ok := cfg.KindTransforms[kind]; ok {
			kind = mapped
		}
	}

	out := &AlteratedNode{Kind: kind}
	if cfg.IncludeSpans {
		out.HasSpan = true
		out.StartRow = int(n.StartPoint().Row)
		out.StartCol = int(n.StartPoint().Column)
		out.EndRow = int(n.EndPoint().Row)
		out.EndCol = int(n.EndPoint().Column)
	}

	childCount := int(n.NamedChildCount())
	atMaxDepth := cfg.MaxDepth > 0 && depth >= cfg.MaxDepth

	if childCount == 0 || atMaxDepth {
		if cfg.ExtractText {
			out.Text = n.Content(content)
		}
		return out
	}

	for i := 0; i < childCount; i++ {
		child := alterateNode(n.NamedChild(i), content, cfg, depth+1)
		if child != nil {
			out.Children = append(out.Children, child)
		}
	}
	return out
}
