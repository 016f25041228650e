// Package discover finds the Rust sources and Cargo manifests of a crate tree.
package discover

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/DeusData/pallet-audit/internal/lang"
)

// IgnoreFileName holds extra glob patterns of directories to skip.
const IgnoreFileName = ".palletauditignore"

// IGNORE_PATTERNS are directory names to skip during discovery.
var IGNORE_PATTERNS = map[string]bool{
	".cache": true, ".cargo": true, ".git": true, ".github": true,
	".hg": true, ".idea": true, ".svn": true, ".tmp": true,
	".vscode": true, "node_modules": true, "target": true,
	"tmp": true, "vendor": true,
}

// FileInfo represents a discovered file.
type FileInfo struct {
	Path     string        // absolute path
	RelPath  string        // relative to the walk root, slash separated
	Language lang.Language // Rust for sources, TOML for manifests
}

// IsManifest reports whether f is a Cargo manifest.
func (f FileInfo) IsManifest() bool {
	return f.Language == lang.TOML
}

// Options configures file discovery.
type Options struct {
	IgnoreFile   string // path to an ignore file (optional)
	IncludeTests bool   // keep tests/ and benches/ directories
}

// testDirs hold integration tests and benchmarks, which never define pallets.
var testDirs = map[string]bool{"tests": true, "benches": true, "examples": true}

// shouldSkipDir returns true if the directory should be skipped during discovery.
func shouldSkipDir(name, rel string, extraIgnore []string, includeTests bool) bool {
	if IGNORE_PATTERNS[name] {
		return true
	}
	if !includeTests && testDirs[name] {
		return true
	}
	for _, pattern := range extraIgnore {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

// Discover walks root and returns all .rs files and Cargo manifests in
// lexical path order. root may also be a single .rs file.
func Discover(ctx context.Context, root string, opts *Options) ([]FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &Options{}
	}

	ignPath := opts.IgnoreFile
	if ignPath == "" {
		ignPath = filepath.Join(root, IgnoreFileName)
	}
	extraIgnore, _ := loadIgnoreFile(ignPath)

	manifestNames := lang.ForLanguage(lang.Rust).PackageIndicators

	var files []FileInfo
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			return filepath.SkipDir
		}

		rel, _ := filepath.Rel(root, path)
		if d.IsDir() {
			if path != root && shouldSkipDir(d.Name(), rel, extraIgnore, opts.IncludeTests) {
				return filepath.SkipDir
			}
			return nil
		}
		if rel == "." {
			rel = d.Name()
		}

		l, ok := lang.LanguageForExtension(filepath.Ext(path))
		switch {
		case !ok:
			return nil
		case l == lang.TOML && !slices.Contains(manifestNames, d.Name()):
			return nil
		}
		files = append(files, FileInfo{
			Path:     path,
			RelPath:  filepath.ToSlash(rel),
			Language: l,
		})
		return nil
	})
	return files, err
}

func loadIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	return patterns, scanner.Err()
}
