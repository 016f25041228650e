package lang

func init() {
	Register(&LanguageSpec{
		Language:           Rust,
		FileExtensions:     []string{".rs"},
		ImplNodeTypes:      []string{"impl_item"},
		FunctionNodeTypes:  []string{"function_item"},
		ModuleNodeTypes:    []string{"mod_item"},
		TraitNodeTypes:     []string{"trait_item"},
		EnumNodeTypes:      []string{"enum_item"},
		AttributeNodeTypes: []string{"attribute_item"},
		CommentNodeTypes:   []string{"line_comment", "block_comment"},
		PackageIndicators:  []string{"Cargo.toml"},
	})
}
