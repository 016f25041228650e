// Package model holds the asset types shared by discovery, the registry and
// the threat engine.
package model

import "fmt"

// Parameter is one function parameter. Type is the verbatim source type
// expression and is never parsed further.
type Parameter struct {
	Name string `json:"name"`
	Type string `json:"param_type"`
}

// Visibility is the declared visibility of an asset.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
	// None applies to element kinds without a native visibility qualifier.
	None Visibility = "none"
)

// ParseVisibility maps the interchange spelling to a Visibility.
// Anything unrecognised is None.
func ParseVisibility(s string) Visibility {
	switch s {
	case string(Public):
		return Public
	case string(Private):
		return Private
	default:
		return None
	}
}

// CategoryKind tags the Category union.
type CategoryKind string

const (
	KindPublicFunction CategoryKind = "PublicFunction"
	KindHelper         CategoryKind = "Helper"
	KindStorage        CategoryKind = "Storage"
	KindConstant       CategoryKind = "Constant"
	KindEvent          CategoryKind = "Event"
	KindError          CategoryKind = "Error"
)

// StorageConfig is the payload of a Storage category.
type StorageConfig struct {
	Visibility Visibility `json:"visibility"`
	Name       string     `json:"name"`
}

// Category is a tagged union. Only the fields belonging to Kind are set:
//
//	PublicFunction, Helper: Parameters, ReturnType
//	Storage:                Storage
//	Constant:               Name, ValueType
//	Event, Error:           Name, Fields
type Category struct {
	Kind       CategoryKind   `json:"kind"`
	Parameters []Parameter    `json:"parameters,omitempty"`
	ReturnType string         `json:"return_type,omitempty"`
	Storage    *StorageConfig `json:"storage,omitempty"`
	Name       string         `json:"name,omitempty"`
	ValueType  string         `json:"value_type,omitempty"`
	Fields     []Parameter    `json:"fields,omitempty"`
}

func PublicFunction(params []Parameter, returnType string) Category {
	return Category{Kind: KindPublicFunction, Parameters: params, ReturnType: returnType}
}

func Helper(params []Parameter, returnType string) Category {
	return Category{Kind: KindHelper, Parameters: params, ReturnType: returnType}
}

func Storage(name string, vis Visibility) Category {
	return Category{Kind: KindStorage, Storage: &StorageConfig{Visibility: vis, Name: name}}
}

func Constant(name, valueType string) Category {
	return Category{Kind: KindConstant, Name: name, ValueType: valueType}
}

func Event(name string, fields []Parameter) Category {
	return Category{Kind: KindEvent, Name: name, Fields: fields}
}

func Error(name string, fields []Parameter) Category {
	return Category{Kind: KindError, Name: name, Fields: fields}
}

// IsFunction reports whether the category describes a callable.
func (c Category) IsFunction() bool {
	return c.Kind == KindPublicFunction || c.Kind == KindHelper
}

// Asset is one named element extracted from a pallet.
type Asset struct {
	Name       string     `json:"name"`
	Visibility Visibility `json:"visibility"`
	Category   Category   `json:"category"`
	Properties Properties `json:"properties"`
}

func (a Asset) String() string {
	return fmt.Sprintf("%s(%s, %s)", a.Name, a.Category.Kind, a.Visibility)
}
