package visitor

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/pallet-audit/internal/parser"
)

// PalletModule is the nested module whose type aliases are storage items.
const PalletModule = "pallet"

// Attribute paths that classify items. Compared as exact strings against the
// flattened attribute path.
const (
	MarkerConstant = "pallet::constant"
	MarkerEvent    = "pallet::event"
	MarkerError    = "pallet::error"
)

// docAttribute is what an outer doc comment desugars to.
const docAttribute = "doc"

type marker int

const (
	markerNone marker = iota
	markerConstant
	markerEvent
	markerError
)

func resolveMarker(path string) marker {
	switch path {
	case MarkerConstant:
		return markerConstant
	case MarkerEvent:
		return markerEvent
	case MarkerError:
		return markerError
	default:
		return markerNone
	}
}

func hasMarker(attrs []string, m marker) bool {
	for _, a := range attrs {
		if resolveMarker(a) == m {
			return true
		}
	}
	return false
}

// outerAttributes returns the flattened paths of the attributes attached to
// node, in source order. Rust attributes are preceding siblings of the item,
// possibly interleaved with comments; outer doc comments count as "doc".
func (v *visitor) outerAttributes(node *tree_sitter.Node) []string {
	var rev []string
	for prev := node.PrevSibling(); prev != nil; prev = prev.PrevSibling() {
		kind := prev.Kind()
		if v.attrTypes[kind] {
			if path := v.attributePath(prev); path != "" {
				rev = append(rev, path)
			}
			continue
		}
		if v.commentTypes[kind] {
			if isOuterDocComment(parser.NodeText(prev, v.source)) {
				rev = append(rev, docAttribute)
			}
			continue
		}
		break
	}
	attrs := make([]string, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		attrs = append(attrs, rev[i])
	}
	return attrs
}

// attributePath flattens #[a::b::c(...)] to "a::b::c".
func (v *visitor) attributePath(item *tree_sitter.Node) string {
	attr := parser.FindChildByKind(item, "attribute")
	if attr == nil || attr.NamedChildCount() == 0 {
		return ""
	}
	return strings.Join(v.pathSegments(attr.NamedChild(0)), "::")
}

func (v *visitor) pathSegments(n *tree_sitter.Node) []string {
	if n == nil {
		return nil
	}
	if n.Kind() != "scoped_identifier" {
		return []string{parser.NodeText(n, v.source)}
	}
	segs := v.pathSegments(n.ChildByFieldName("path"))
	if name := n.ChildByFieldName("name"); name != nil {
		segs = append(segs, parser.NodeText(name, v.source))
	}
	return segs
}

func isOuterDocComment(text string) bool {
	switch {
	case strings.HasPrefix(text, "///"):
		return !strings.HasPrefix(text, "////")
	case strings.HasPrefix(text, "/**"):
		return !strings.HasPrefix(text, "/***") && text != "/**/"
	}
	return false
}
