package parser

import (
	"fmt"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"

	tree_sitter_toml "github.com/tree-sitter-grammars/tree-sitter-toml/bindings/go"

	"github.com/DeusData/pallet-audit/internal/lang"
)

var (
	languagesOnce sync.Once
	languages     map[lang.Language]*tree_sitter.Language
	parserPools   map[lang.Language]*sync.Pool
)

func initLanguages() {
	languagesOnce.Do(func() {
		languages = map[lang.Language]*tree_sitter.Language{
			lang.Rust: tree_sitter.NewLanguage(tree_sitter_rust.Language()),
			lang.TOML: tree_sitter.NewLanguage(tree_sitter_toml.Language()),
		}

		parserPools = make(map[lang.Language]*sync.Pool, len(languages))
		for l, tsLang := range languages {
			tsLang := tsLang
			parserPools[l] = &sync.Pool{
				New: func() any {
					p := tree_sitter.NewParser()
					if err := p.SetLanguage(tsLang); err != nil {
						panic(fmt.Sprintf("set language: %v", err))
					}
					return p
				},
			}
		}
	})
}

// GetLanguage returns the tree-sitter Language for a lang.Language.
func GetLanguage(l lang.Language) (*tree_sitter.Language, error) {
	initLanguages()
	tsLang, ok := languages[l]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", l)
	}
	return tsLang, nil
}

// Parse parses source code into a tree-sitter AST Tree.
// The caller must call tree.Close() when done.
// Parsers are pooled per language via sync.Pool; files parsed concurrently
// each get their own parser.
func Parse(l lang.Language, source []byte) (*tree_sitter.Tree, error) {
	initLanguages()

	pool, ok := parserPools[l]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", l)
	}

	p, _ := pool.Get().(*tree_sitter.Parser)
	if p == nil {
		return nil, fmt.Errorf("failed to get parser for language %s", l)
	}
	tree := p.Parse(source, nil)
	pool.Put(p)

	if tree == nil {
		return nil, fmt.Errorf("parse failed for language %s", l)
	}

	return tree, nil
}

// SyntaxError describes the first ERROR or MISSING node of a tree.
type SyntaxError struct {
	Line   int // 1-based
	Column int // 1-based
	Kind   string
	Text   string
}

func (e *SyntaxError) Error() string {
	if e.Kind == "MISSING" {
		return fmt.Sprintf("line %d col %d: missing %s", e.Line, e.Column, e.Text)
	}
	return fmt.Sprintf("line %d col %d: unexpected %q", e.Line, e.Column, e.Text)
}

// CheckSyntax returns a *SyntaxError for the first ERROR or MISSING node in
// document order, or nil if the tree is clean.
func CheckSyntax(tree *tree_sitter.Tree, source []byte) error {
	root := tree.RootNode()
	if root == nil || !root.HasError() {
		return nil
	}
	var found *SyntaxError
	Walk(root, func(n *tree_sitter.Node) bool {
		if found != nil {
			return false
		}
		if !n.HasError() {
			return false
		}
		if n.IsError() || n.IsMissing() {
			pos := n.StartPosition()
			found = &SyntaxError{
				Line:   int(pos.Row) + 1,
				Column: int(pos.Column) + 1,
				Kind:   "ERROR",
				Text:   snippet(NodeText(n, source)),
			}
			if n.IsMissing() {
				found.Kind = "MISSING"
				found.Text = n.Kind()
			}
			return false
		}
		return true
	})
	if found == nil {
		// HasError was set but no concrete node surfaced; report the root.
		return &SyntaxError{Line: 1, Column: 1, Kind: "ERROR", Text: snippet(NodeText(root, source))}
	}
	return found
}

func snippet(s string) string {
	const limit = 40
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// WalkFunc is called for each node during AST traversal.
// Return false to skip children.
type WalkFunc func(node *tree_sitter.Node) bool

// Walk traverses the AST in depth-first order.
func Walk(node *tree_sitter.Node, fn WalkFunc) {
	if node == nil {
		return
	}
	if !fn(node) {
		return
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child != nil {
			Walk(child, fn)
		}
	}
}

// NodeText returns the text content of a node.
func NodeText(node *tree_sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// FindChildByKind returns the first direct child of the given kind.
func FindChildByKind(node *tree_sitter.Node, kind string) *tree_sitter.Node {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child != nil && child.Kind() == kind {
			return child
		}
	}
	return nil
}
