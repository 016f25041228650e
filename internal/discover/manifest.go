package discover

import (
	"fmt"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/pallet-audit/internal/lang"
	"github.com/DeusData/pallet-audit/internal/parser"
)

// palletDeps are crates whose presence marks a FRAME pallet.
var palletDeps = map[string]bool{
	"frame-support":      true,
	"polkadot-sdk-frame": true,
	"frame":              true,
}

// Manifest is the subset of a Cargo.toml the audit cares about.
type Manifest struct {
	Name         string
	Dependencies []string // [dependencies] and target-specific ones, in file order
	Workspace    bool     // has a [workspace] table
}

// IsPallet reports whether the crate depends on FRAME.
func (m *Manifest) IsPallet() bool {
	for _, d := range m.Dependencies {
		if palletDeps[d] {
			return true
		}
	}
	return false
}

// ParseManifest reads a Cargo.toml.
func ParseManifest(source []byte) (*Manifest, error) {
	tree, err := parser.Parse(lang.TOML, source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	if err := parser.CheckSyntax(tree, source); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	m := &Manifest{}
	seen := map[string]bool{}
	addDep := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			m.Dependencies = append(m.Dependencies, name)
		}
	}

	root := tree.RootNode()
	for i := uint(0); i < root.NamedChildCount(); i++ {
		table := root.NamedChild(i)
		if table == nil || table.Kind() != "table" {
			continue
		}
		header := keySegments(table.NamedChild(0), source)
		if len(header) == 0 {
			continue
		}

		switch {
		case header[0] == "workspace":
			m.Workspace = true
		case len(header) == 1 && header[0] == "package":
			eachPair(table, source, func(key []string, value *tree_sitter.Node) {
				if len(key) == 1 && key[0] == "name" && value.Kind() == "string" {
					m.Name = unquote(parser.NodeText(value, source))
				}
			})
		case isDependencySection(header):
			eachPair(table, source, func(key []string, _ *tree_sitter.Node) {
				addDep(key[0])
			})
		case len(header) >= 2 && isDependencySection(header[:len(header)-1]):
			// [dependencies.frame-support]
			addDep(header[len(header)-1])
		}
	}
	return m, nil
}

// isDependencySection matches [dependencies] and [target.<cfg>.dependencies].
func isDependencySection(header []string) bool {
	switch {
	case len(header) == 1:
		return header[0] == "dependencies"
	case len(header) == 3:
		return header[0] == "target" && header[2] == "dependencies"
	}
	return false
}

func eachPair(table *tree_sitter.Node, source []byte, fn func(key []string, value *tree_sitter.Node)) {
	for i := uint(0); i < table.NamedChildCount(); i++ {
		pair := table.NamedChild(i)
		if pair == nil || pair.Kind() != "pair" || pair.NamedChildCount() < 2 {
			continue
		}
		key := keySegments(pair.NamedChild(0), source)
		value := pair.NamedChild(pair.NamedChildCount() - 1)
		if len(key) == 0 || value == nil {
			continue
		}
		fn(key, value)
	}
}

// keySegments splits a bare, quoted or dotted key into unquoted segments.
func keySegments(key *tree_sitter.Node, source []byte) []string {
	if key == nil {
		return nil
	}
	switch key.Kind() {
	case "bare_key", "quoted_key":
		return []string{unquote(parser.NodeText(key, source))}
	case "dotted_key":
		var out []string
		for i := uint(0); i < key.NamedChildCount(); i++ {
			out = append(out, keySegments(key.NamedChild(i), source)...)
		}
		return out
	}
	return nil
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
