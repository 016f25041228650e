// Package pipeline runs discovery over a crate tree: find files, parse them
// in parallel, merge the findings on one goroutine and classify them.
package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/DeusData/pallet-audit/internal/apperr"
	"github.com/DeusData/pallet-audit/internal/discover"
	"github.com/DeusData/pallet-audit/internal/inventory"
	"github.com/DeusData/pallet-audit/internal/metrics"
	"github.com/DeusData/pallet-audit/internal/model"
	"github.com/DeusData/pallet-audit/internal/registry"
	"github.com/DeusData/pallet-audit/internal/threat"
	"github.com/DeusData/pallet-audit/internal/visitor"
)

// Options configures a discovery run. The zero value is usable.
type Options struct {
	Workers      int  // parse concurrency; 0 means NumCPU
	IncludeTests bool // also parse tests/, benches/ and examples/
	// KeepGoing skips files that fail to parse instead of aborting the run.
	KeepGoing  bool
	IgnoreFile string
	Metrics    *metrics.Recorder // optional
}

// Crate is a Cargo package found under the root.
type Crate struct {
	Name   string
	Dir    string // relative to root, "." for the root itself
	Pallet bool
}

// FileResult is the outcome of one source file.
type FileResult struct {
	RelPath  string
	Digest   string
	Findings *visitor.Findings
	Err      error
}

// Result is everything a discovery run produced.
type Result struct {
	Root     string
	Crates   []Crate
	Files    []FileResult
	Findings *visitor.Findings
	Assets   []model.Asset
	// Digest identifies the exact set of parsed sources.
	Digest string
}

// Run discovers and classifies every pallet source under root. root may be
// a single .rs file, a crate, or a workspace. When Cargo manifests are found
// only crates depending on FRAME are parsed; without manifests every .rs
// file is.
func Run(ctx context.Context, root string, opts Options) (*Result, error) {
	slog.Info("pipeline.start", "path", root)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.New()
	}

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.InvalidInput("path does not exist: %s", root)
		}
		return nil, apperr.IO(err, "stat %s", root)
	}
	if !info.IsDir() {
		if _, err := inventory.ReadSource(root); err != nil {
			return nil, err
		}
	}

	done := rec.Stage("discover")
	files, err := discover.Discover(ctx, root, &discover.Options{
		IgnoreFile:   opts.IgnoreFile,
		IncludeTests: opts.IncludeTests,
	})
	done()
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}

	res := &Result{Root: root}
	res.Crates = readCrates(files)
	sources := selectSources(files, res.Crates)
	slog.Info("pipeline.discovered", "files", len(files), "sources", len(sources), "crates", len(res.Crates))

	done = rec.Stage("parse")
	res.Files = parseAll(ctx, sources, opts.Workers)
	done()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Single writer: merge in path order.
	res.Findings = &visitor.Findings{}
	for _, fr := range res.Files {
		if fr.Err != nil {
			rec.FileParsed("error")
			if !opts.KeepGoing {
				return nil, fr.Err
			}
			slog.Warn("pipeline.file.skip", "path", fr.RelPath, "err", fr.Err)
			continue
		}
		rec.FileParsed("ok")
		res.Findings.Merge(fr.Findings)
	}
	res.Digest = combineDigests(res.Files)
	res.Assets = inventory.Classify(res.Findings)
	rec.ObserveAssets(res.Assets)

	slog.Info("pipeline.done", "assets", len(res.Assets), "digest", res.Digest)
	return res, nil
}

// readCrates parses every manifest. Unreadable manifests are logged and
// treated as non-pallet crates.
func readCrates(files []discover.FileInfo) []Crate {
	var crates []Crate
	for _, f := range files {
		if !f.IsManifest() {
			continue
		}
		c := Crate{Dir: filepath.ToSlash(filepath.Dir(f.RelPath))}
		data, err := os.ReadFile(f.Path)
		if err != nil {
			slog.Warn("pipeline.manifest.err", "path", f.RelPath, "err", err)
			crates = append(crates, c)
			continue
		}
		m, err := discover.ParseManifest(data)
		if err != nil {
			slog.Warn("pipeline.manifest.err", "path", f.RelPath, "err", err)
			crates = append(crates, c)
			continue
		}
		if m.Workspace && m.Name == "" {
			continue
		}
		c.Name, c.Pallet = m.Name, m.IsPallet()
		crates = append(crates, c)
	}
	return crates
}

// selectSources keeps the .rs files owned by a pallet crate, where owner is
// the deepest crate directory containing the file.
func selectSources(files []discover.FileInfo, crates []Crate) []discover.FileInfo {
	var rs []discover.FileInfo
	for _, f := range files {
		if !f.IsManifest() {
			rs = append(rs, f)
		}
	}
	if len(crates) == 0 {
		return rs
	}

	// Deepest directory first; the root crate always comes last.
	byDepth := make([]Crate, len(crates))
	copy(byDepth, crates)
	sort.SliceStable(byDepth, func(i, j int) bool {
		return dirDepth(byDepth[i].Dir) > dirDepth(byDepth[j].Dir)
	})

	var out []discover.FileInfo
	for _, f := range rs {
		for _, c := range byDepth {
			if c.Dir == "." || strings.HasPrefix(f.RelPath, c.Dir+"/") {
				if c.Pallet {
					out = append(out, f)
				}
				break
			}
		}
	}
	return out
}

// dirDepth counts the path segments of a slash-separated relative dir; "."
// is depth 0.
func dirDepth(dir string) int {
	if dir == "." || dir == "" {
		return 0
	}
	return strings.Count(dir, "/") + 1
}

// parseAll parses files concurrently. Results keep input order; workers never
// share state.
func parseAll(ctx context.Context, files []discover.FileInfo, workers int) []FileResult {
	results := make([]FileResult, len(files))
	if len(files) == 0 {
		return results
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(files) {
		workers = len(files)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = FileResult{RelPath: f.RelPath, Err: err}
				return err
			}
			results[i] = parseFile(f)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func parseFile(f discover.FileInfo) FileResult {
	start := time.Now()
	fr := FileResult{RelPath: f.RelPath}

	source, err := inventory.ReadSource(f.Path)
	if err != nil {
		fr.Err = err
		return fr
	}
	source = stripBOM(source)
	fr.Digest = digest(source)

	fr.Findings, fr.Err = visitor.ParseSource(f.RelPath, source)
	slog.Debug("pipeline.file", "path", f.RelPath, "elapsed", time.Since(start), "ok", fr.Err == nil)
	return fr
}

// Analyze loads assets into a fresh registry and annotates it with e.
func Analyze(assets []model.Asset, e *threat.Engine) (*registry.Registry, []threat.FunctionThreatAnalysis) {
	reg := registry.New()
	reg.RegisterAll(assets)
	return reg, threat.Annotate(reg, e)
}

func stripBOM(source []byte) []byte {
	if len(source) >= 3 && source[0] == 0xEF && source[1] == 0xBB && source[2] == 0xBF {
		return source[3:]
	}
	return source
}

func digest(data []byte) string {
	h := xxh3.New()
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// combineDigests hashes the (path, digest) list of successfully read files.
func combineDigests(files []FileResult) string {
	h := xxh3.New()
	for _, f := range files {
		if f.Digest == "" {
			continue
		}
		_, _ = h.Write([]byte(f.RelPath))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(f.Digest))
		_, _ = h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
