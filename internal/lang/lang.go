package lang

// Language represents a supported source language.
type Language string

const (
	Rust Language = "rust"
	// TOML is only parsed for Cargo manifests; it never yields assets.
	TOML Language = "toml"
)

// AllLanguages returns all supported languages.
func AllLanguages() []Language {
	return []Language{Rust, TOML}
}

// LanguageSpec defines the tree-sitter node kinds the visitor keys on.
type LanguageSpec struct {
	Language       Language
	FileExtensions []string

	// ImplNodeTypes hold member functions (Rust impl blocks).
	ImplNodeTypes []string
	// FunctionNodeTypes are member function kinds inside an impl body.
	FunctionNodeTypes []string
	// ModuleNodeTypes are nested module kinds.
	ModuleNodeTypes []string
	// TraitNodeTypes hold associated items.
	TraitNodeTypes []string
	// EnumNodeTypes carry variants.
	EnumNodeTypes []string
	// AttributeNodeTypes are outer attributes; they precede the item as siblings.
	AttributeNodeTypes []string
	// CommentNodeTypes may sit between an attribute and its item.
	CommentNodeTypes []string
	// PackageIndicators are manifest files marking a crate root.
	PackageIndicators []string
}

// registry maps file extensions to language specs.
var registry = map[string]*LanguageSpec{}

// Register adds a LanguageSpec to the global registry.
func Register(spec *LanguageSpec) {
	for _, ext := range spec.FileExtensions {
		registry[ext] = spec
	}
}

// ForExtension returns the LanguageSpec for a file extension (e.g. ".rs").
func ForExtension(ext string) *LanguageSpec {
	return registry[ext]
}

// ForLanguage returns the LanguageSpec for a language.
func ForLanguage(lang Language) *LanguageSpec {
	for _, spec := range registry {
		if spec.Language == lang {
			return spec
		}
	}
	return nil
}

// LanguageForExtension returns the Language for a file extension.
func LanguageForExtension(ext string) (Language, bool) {
	spec := registry[ext]
	if spec == nil {
		return "", false
	}
	return spec.Language, true
}
