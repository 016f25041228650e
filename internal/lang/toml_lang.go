package lang

func init() {
	Register(&LanguageSpec{
		Language:        TOML,
		FileExtensions:  []string{".toml"},
		ModuleNodeTypes: []string{"document"},
	})
}
