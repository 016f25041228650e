// Package visitor walks the syntax tree of one pallet source file and
// collects raw findings per element kind. It performs no classification:
// turning findings into assets is the inventory package's job.
package visitor

import (
	"log/slog"
	"strconv"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/pallet-audit/internal/apperr"
	"github.com/DeusData/pallet-audit/internal/lang"
	"github.com/DeusData/pallet-audit/internal/model"
	"github.com/DeusData/pallet-audit/internal/parser"
)

// FunctionFinding is a member function of an impl block.
type FunctionFinding struct {
	Name       string
	Public     bool
	Parameters []model.Parameter
	ReturnType string
	Line       int
}

// StorageFinding is an attributed type alias directly inside the pallet module.
type StorageFinding struct {
	Name       string
	Public     bool
	Attributes []string
	Line       int
}

// ConstantFinding is an associated type marked as a pallet constant.
type ConstantFinding struct {
	Name      string
	ValueType string
	Line      int
}

// VariantFinding is one variant of an event or error enum.
type VariantFinding struct {
	Enum   string
	Name   string
	Fields []model.Parameter
	Line   int
}

// Findings are the raw per-kind results of one file, each slice in source order.
type Findings struct {
	Functions []FunctionFinding
	Storage   []StorageFinding
	Constants []ConstantFinding
	Events    []VariantFinding
	Errors    []VariantFinding
}

// Len returns the total number of findings.
func (f *Findings) Len() int {
	return len(f.Functions) + len(f.Storage) + len(f.Constants) + len(f.Events) + len(f.Errors)
}

// Merge appends other's findings after f's.
func (f *Findings) Merge(other *Findings) {
	f.Functions = append(f.Functions, other.Functions...)
	f.Storage = append(f.Storage, other.Storage...)
	f.Constants = append(f.Constants, other.Constants...)
	f.Events = append(f.Events, other.Events...)
	f.Errors = append(f.Errors, other.Errors...)
}

// ParseSource parses one Rust file and visits it. A file that does not parse
// cleanly is a fatal ParseError; nothing partial is returned.
func ParseSource(name string, source []byte) (*Findings, error) {
	tree, err := parser.Parse(lang.Rust, source)
	if err != nil {
		return nil, apperr.Parse(err, "%s", name)
	}
	defer tree.Close()

	if err := parser.CheckSyntax(tree, source); err != nil {
		return nil, apperr.Parse(err, "%s", name)
	}

	f := Visit(tree.RootNode(), source)
	slog.Debug("visitor.done", "file", name,
		"functions", len(f.Functions), "storage", len(f.Storage),
		"constants", len(f.Constants), "events", len(f.Events), "errors", len(f.Errors))
	return f, nil
}

type visitor struct {
	source       []byte
	implTypes    map[string]bool
	funcTypes    map[string]bool
	modTypes     map[string]bool
	traitTypes   map[string]bool
	enumTypes    map[string]bool
	attrTypes    map[string]bool
	commentTypes map[string]bool
	out          *Findings
}

// Visit walks an already parsed tree depth-first and returns its findings.
func Visit(root *tree_sitter.Node, source []byte) *Findings {
	spec := lang.ForLanguage(lang.Rust)
	v := &visitor{
		source:       source,
		implTypes:    toSet(spec.ImplNodeTypes),
		funcTypes:    toSet(spec.FunctionNodeTypes),
		modTypes:     toSet(spec.ModuleNodeTypes),
		traitTypes:   toSet(spec.TraitNodeTypes),
		enumTypes:    toSet(spec.EnumNodeTypes),
		attrTypes:    toSet(spec.AttributeNodeTypes),
		commentTypes: toSet(spec.CommentNodeTypes),
		out:          &Findings{},
	}
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		kind := node.Kind()
		switch {
		case v.implTypes[kind]:
			v.visitImpl(node)
		case v.modTypes[kind]:
			v.visitMod(node)
		case v.traitTypes[kind]:
			v.visitTrait(node)
		case v.enumTypes[kind]:
			v.visitEnum(node)
		}
		// Keep descending: impls and modules nest arbitrarily.
		return true
	})
	return v.out
}

func (v *visitor) visitImpl(node *tree_sitter.Node) {
	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := uint(0); i < body.NamedChildCount(); i++ {
		child := body.NamedChild(i)
		if child == nil || !v.funcTypes[child.Kind()] {
			continue
		}
		nameNode := child.ChildByFieldName("name")
		if nameNode == nil {
			slog.Debug("visitor.fn.skip", "line", line(child), "reason", "no_name")
			continue
		}
		fn := FunctionFinding{
			Name:       v.text(nameNode),
			Public:     v.isPublic(child),
			Parameters: v.parameters(child.ChildByFieldName("parameters")),
			Line:       line(child),
		}
		if rt := child.ChildByFieldName("return_type"); rt != nil {
			fn.ReturnType = v.text(rt)
		}
		v.out.Functions = append(v.out.Functions, fn)
	}
}

// parameters returns the typed, identifier-bound parameters. The receiver and
// destructuring patterns are skipped.
func (v *visitor) parameters(list *tree_sitter.Node) []model.Parameter {
	params := []model.Parameter{}
	if list == nil {
		return params
	}
	for i := uint(0); i < list.NamedChildCount(); i++ {
		p := list.NamedChild(i)
		if p == nil || p.Kind() != "parameter" {
			continue
		}
		pat := p.ChildByFieldName("pattern")
		typ := p.ChildByFieldName("type")
		if pat != nil && pat.Kind() == "mut_pattern" {
			pat = parser.FindChildByKind(pat, "identifier")
		}
		if pat == nil || typ == nil || pat.Kind() != "identifier" {
			continue
		}
		params = append(params, model.Parameter{Name: v.text(pat), Type: v.text(typ)})
	}
	return params
}

func (v *visitor) visitMod(node *tree_sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil || v.text(nameNode) != PalletModule {
		return
	}
	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := uint(0); i < body.NamedChildCount(); i++ {
		item := body.NamedChild(i)
		if item == nil || item.Kind() != "type_item" {
			continue
		}
		attrs := v.outerAttributes(item)
		if len(attrs) == 0 {
			continue
		}
		name := item.ChildByFieldName("name")
		if name == nil {
			continue
		}
		v.out.Storage = append(v.out.Storage, StorageFinding{
			Name:       v.text(name),
			Public:     v.isPublic(item),
			Attributes: attrs,
			Line:       line(item),
		})
	}
}

func (v *visitor) visitTrait(node *tree_sitter.Node) {
	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := uint(0); i < body.NamedChildCount(); i++ {
		item := body.NamedChild(i)
		if item == nil || item.Kind() != "associated_type" {
			continue
		}
		if !hasMarker(v.outerAttributes(item), markerConstant) {
			continue
		}
		name := item.ChildByFieldName("name")
		if name == nil {
			continue
		}
		c := ConstantFinding{Name: v.text(name), Line: line(item)}
		if bounds := item.ChildByFieldName("bounds"); bounds != nil {
			c.ValueType = strings.TrimSpace(strings.TrimPrefix(v.text(bounds), ":"))
		}
		v.out.Constants = append(v.out.Constants, c)
	}
}

func (v *visitor) visitEnum(node *tree_sitter.Node) {
	attrs := v.outerAttributes(node)
	isEvent := hasMarker(attrs, markerEvent)
	isError := hasMarker(attrs, markerError)
	if !isEvent && !isError {
		return
	}
	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	enumName := ""
	if n := node.ChildByFieldName("name"); n != nil {
		enumName = v.text(n)
	}
	for i := uint(0); i < body.NamedChildCount(); i++ {
		variant := body.NamedChild(i)
		if variant == nil || variant.Kind() != "enum_variant" {
			continue
		}
		name := variant.ChildByFieldName("name")
		if name == nil {
			continue
		}
		vf := VariantFinding{
			Enum:   enumName,
			Name:   v.text(name),
			Fields: v.variantFields(variant.ChildByFieldName("body")),
			Line:   line(variant),
		}
		if isEvent {
			v.out.Events = append(v.out.Events, vf)
		} else {
			v.out.Errors = append(v.out.Errors, vf)
		}
	}
}

// variantFields reads named fields ({ who: T }) or positional ones ((T, U)),
// naming positional fields by index.
func (v *visitor) variantFields(body *tree_sitter.Node) []model.Parameter {
	if body == nil {
		return nil
	}
	var fields []model.Parameter
	switch body.Kind() {
	case "field_declaration_list":
		for i := uint(0); i < body.NamedChildCount(); i++ {
			fd := body.NamedChild(i)
			if fd == nil || fd.Kind() != "field_declaration" {
				continue
			}
			name, typ := fd.ChildByFieldName("name"), fd.ChildByFieldName("type")
			if name == nil || typ == nil {
				continue
			}
			fields = append(fields, model.Parameter{Name: v.text(name), Type: v.text(typ)})
		}
	case "ordered_field_declaration_list":
		idx := 0
		for i := uint(0); i < body.ChildCount(); i++ {
			if body.FieldNameForChild(uint32(i)) != "type" {
				continue
			}
			fields = append(fields, model.Parameter{Name: strconv.Itoa(idx), Type: v.text(body.Child(i))})
			idx++
		}
	}
	return fields
}

// isPublic is true only for a bare `pub`; restricted forms such as
// pub(crate) count as private.
func (v *visitor) isPublic(item *tree_sitter.Node) bool {
	mod := parser.FindChildByKind(item, "visibility_modifier")
	if mod == nil {
		return false
	}
	return strings.TrimSpace(v.text(mod)) == "pub"
}

func (v *visitor) text(n *tree_sitter.Node) string {
	return parser.NodeText(n, v.source)
}

func line(n *tree_sitter.Node) int {
	return int(n.StartPosition().Row) + 1
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}
