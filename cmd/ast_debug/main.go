// Command ast_debug prints the tree-sitter syntax tree of Rust or TOML files.
//
//	ast_debug src/lib.rs Cargo.toml
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/pallet-audit/internal/lang"
	"github.com/DeusData/pallet-audit/internal/parser"
)

func printAST(node *tree_sitter.Node, source []byte, indent int) {
	if node == nil {
		return
	}
	prefix := strings.Repeat("  ", indent)
	parentKind := "nil"
	if node.Parent() != nil {
		parentKind = node.Parent().Kind()
	}
	text := parser.NodeText(node, source)
	if len(text) > 60 {
		text = text[:60] + "..."
	}
	field := ""
	if p := node.Parent(); p != nil {
		for i := uint(0); i < p.ChildCount(); i++ {
			if c := p.Child(i); c != nil && c.Id() == node.Id() {
				if name := p.FieldNameForChild(uint32(i)); name != "" {
					field = name + ": "
				}
				break
			}
		}
	}
	fmt.Printf("%s%s%s (parent=%s) %q\n", prefix, field, node.Kind(), parentKind, text)
	for i := uint(0); i < node.ChildCount(); i++ {
		printAST(node.Child(i), source, indent+1)
	}
}

func languageFor(path string) (lang.Language, bool) {
	if filepath.Base(path) == "Cargo.toml" {
		return lang.TOML, true
	}
	return lang.LanguageForExtension(filepath.Ext(path))
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ast_debug <file.rs|Cargo.toml>...")
		os.Exit(2)
	}
	status := 0
	for _, path := range os.Args[1:] {
		l, ok := languageFor(path)
		if !ok {
			fmt.Fprintf(os.Stderr, "%s: unsupported file type\n", path)
			status = 1
			continue
		}
		source, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			status = 1
			continue
		}
		fmt.Printf("=== %s (%s) ===\n", path, l)
		tree, err := parser.Parse(l, source)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			status = 1
			continue
		}
		printAST(tree.RootNode(), source, 0)
		if err := parser.CheckSyntax(tree, source); err != nil {
			fmt.Println("!!", err)
		}
		tree.Close()
	}
	os.Exit(status)
}
