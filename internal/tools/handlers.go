package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/pallet-audit/internal/inventory"
	"github.com/DeusData/pallet-audit/internal/model"
	"github.com/DeusData/pallet-audit/internal/pipeline"
	"github.com/DeusData/pallet-audit/internal/registry"
	"github.com/DeusData/pallet-audit/internal/store"
	"github.com/DeusData/pallet-audit/internal/threat"
)

type loadSummary struct {
	Source  string                     `json:"source"`
	Assets  int                        `json:"assets"`
	Dropped int                        `json:"dropped,omitempty"`
	ByKind  map[model.CategoryKind]int `json:"by_kind"`
	Digest  string                     `json:"digest,omitempty"`
	Written string                     `json:"written,omitempty"`
}

func (s *Server) handleDiscoverAssets(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	path := getStringArg(args, "path")
	if path == "" {
		return errResult("path is required"), nil
	}

	res, err := s.discover(ctx, path, getBoolArg(args, "keep_going"))
	if err != nil {
		return errResult(err.Error()), nil
	}
	sum := loadSummary{
		Source: path,
		Assets: len(res.Assets),
		ByKind: inventory.CountByKind(res.Assets),
		Digest: res.Digest,
	}
	out := getStringArg(args, "output")
	if out == "" && getBoolArg(args, "save") {
		out = s.cfg.EffectiveInventoryPath()
	}
	if out != "" {
		if err := inventory.WriteFile(out, res.Assets); err != nil {
			return errResult(err.Error()), nil
		}
		sum.Written = out
	}
	return jsonResult(sum), nil
}

// discover runs the pipeline on path and loads the result. The previous
// registry stays in place when the run fails.
func (s *Server) discover(ctx context.Context, path string, keepGoing bool) (*pipeline.Result, error) {
	res, err := pipeline.Run(ctx, path, pipeline.Options{KeepGoing: keepGoing})
	if err != nil {
		return nil, err
	}
	s.replace(path, res.Digest, res.Assets)
	if s.watch != nil {
		s.watch.Watch(path)
	}
	return res, nil
}

func (s *Server) rediscover(ctx context.Context, root string) error {
	_, err := s.discover(ctx, root, false)
	return err
}

func (s *Server) handleLoadInventory(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	path := getStringArg(args, "path")
	if path == "" {
		return errResult("path is required"), nil
	}
	assets, dropped, err := inventory.Load(path)
	if err != nil {
		return errResult(err.Error()), nil
	}
	s.replace(path, "", assets)
	if s.watch != nil {
		s.watch.Watch("")
	}
	return jsonResult(loadSummary{
		Source:  path,
		Assets:  len(assets),
		Dropped: dropped,
		ByKind:  inventory.CountByKind(assets),
	}), nil
}

// replace swaps in a fresh registry holding assets.
func (s *Server) replace(source, digest string, assets []model.Asset) {
	reg := registry.New()
	reg.RegisterAll(assets)
	s.mu.Lock()
	s.reg, s.source, s.digest = reg, source, digest
	s.mu.Unlock()
	slog.Info("tools.loaded", "source", source, "assets", reg.Len())
}

func (s *Server) handleAnalyzeThreats(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg.Len() == 0 {
		return errResult("no inventory loaded: call discover_assets or load_inventory first"), nil
	}
	results := threat.Annotate(s.reg, s.engine)

	if s.store != nil {
		if err := s.store.Save(store.SnapshotOf(s.source, s.digest, s.reg)); err != nil {
			slog.Warn("tools.snapshot.err", "err", err)
		}
	}

	if limit := getIntArg(args, "limit", 0); limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return jsonResult(results), nil
}

func (s *Server) handleAssetsByRisk(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	level, err := model.ParseRiskLevel(getStringArg(args, "level"))
	if err != nil {
		return errResult(err.Error()), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return jsonResult(s.reg.AssetsByRisk(level)), nil
}

func (s *Server) handlePublicInterfaces(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return jsonResult(s.reg.PublicInterfaces()), nil
}

func (s *Server) handleGetProperties(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, res := requireName(req)
	if res != nil {
		return res, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	props, ok := s.reg.Properties(name)
	if !ok {
		return errResult(fmt.Sprintf("asset not found: %s", name)), nil
	}
	return jsonResult(struct {
		Name            string           `json:"name"`
		Properties      model.Properties `json:"properties"`
		Vulnerabilities []model.Threat   `json:"vulnerabilities"`
	}{name, props, s.reg.Vulnerabilities(name)}), nil
}

func (s *Server) handleDependentsOf(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, res := requireName(req)
	if res != nil {
		return res, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return jsonResult(s.reg.DependentsOf(name)), nil
}

func (s *Server) handleStorageAccessorsOf(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, res := requireName(req)
	if res != nil {
		return res, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return jsonResult(s.reg.StorageAccessorsOf(name)), nil
}

func (s *Server) handleTranslateThreat(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	desc := getStringArg(args, "description")
	if desc == "" {
		return errResult("description is required"), nil
	}
	th, err := threat.TranslateDescription(ctx, s.llm, desc)
	if err != nil {
		return errResult(err.Error()), nil
	}
	return jsonResult(th), nil
}

func requireName(req *mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	args, err := parseArgs(req)
	if err != nil {
		return "", errResult(err.Error())
	}
	name := getStringArg(args, "name")
	if name == "" {
		return "", errResult("name is required")
	}
	return name, nil
}
