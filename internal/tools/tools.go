// Package tools exposes the audit as MCP tools over stdio.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/pallet-audit/internal/config"
	"github.com/DeusData/pallet-audit/internal/discover"
	"github.com/DeusData/pallet-audit/internal/llm"
	"github.com/DeusData/pallet-audit/internal/registry"
	"github.com/DeusData/pallet-audit/internal/store"
	"github.com/DeusData/pallet-audit/internal/threat"
	"github.com/DeusData/pallet-audit/internal/watcher"
)

// Version is reported to MCP clients and by the CLI.
var Version = "0.1.0"

// Server wraps the MCP server with tool handlers. It owns one registry;
// loading a new inventory replaces it. Tool calls may arrive concurrently,
// so every access goes through mu.
type Server struct {
	mcp    *mcp.Server
	cfg    *config.Config
	engine *threat.Engine
	store  *store.Store // optional snapshot store
	llm    llm.Client   // optional
	watch  *watcher.Watcher

	mu     sync.Mutex
	reg    *registry.Registry
	source string // where the current registry came from
	digest string // source digest, empty for loaded inventories
}

// Options are the optional collaborators of a Server.
type Options struct {
	Store *store.Store
	LLM   llm.Client
	// Watch re-runs discovery when the last discovered tree changes.
	Watch bool
}

// NewServer creates a new MCP server with all tools registered.
func NewServer(cfg *config.Config, engine *threat.Engine, opts Options) *Server {
	srv := &Server{
		cfg:    cfg,
		engine: engine,
		store:  opts.Store,
		llm:    opts.LLM,
		reg:    registry.New(),
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    "pallet-audit",
				Version: Version,
			},
			nil,
		),
	}
	if opts.Watch {
		srv.watch = watcher.New(srv.rediscover, discover.Options{})
	}
	srv.registerTools()
	return srv
}

// Run serves MCP on t until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.watch != nil {
		go s.watch.Run(ctx)
	}
	return s.mcp.Run(ctx, t)
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	s.mcp.AddTool(&mcp.Tool{
		Name:        "discover_assets",
		Description: "Parse a pallet crate (or a single .rs file, or a workspace) and load its asset inventory: public and private dispatchables, storage items, constants, events and errors. Replaces the currently loaded inventory.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "Path to a .rs file, a crate directory or a workspace root"
				},
				"output": {
					"type": "string",
					"description": "Optional path to also write the inventory document to (.zst compresses)"
				},
				"keep_going": {
					"type": "boolean",
					"description": "Skip files that fail to parse instead of failing the whole run"
				},
				"save": {
					"type": "boolean",
					"description": "Write the inventory to the configured inventory path when no output is given"
				}
			},
			"required": ["path"]
		}`),
	}, s.handleDiscoverAssets)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "load_inventory",
		Description: "Load a previously written inventory document into the registry, replacing the current one. Entries with unknown categories are dropped.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "Path to the inventory document"
				}
			},
			"required": ["path"]
		}`),
	}, s.handleLoadInventory)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "analyze_threats",
		Description: "Score every function in the loaded inventory against the threat patterns, annotate risk levels, and return the analyses ordered by descending risk score.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"limit": {
					"type": "integer",
					"description": "Max analyses returned (default all)"
				}
			}
		}`),
	}, s.handleAnalyzeThreats)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "assets_by_risk",
		Description: "List assets whose risk level is exactly the given level.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"level": {
					"type": "string",
					"description": "Risk level",
					"enum": ["low", "medium", "high", "critical"]
				}
			},
			"required": ["level"]
		}`),
	}, s.handleAssetsByRisk)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "public_interfaces",
		Description: "List the public entry points: PublicFunction assets declared pub.",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}, s.handlePublicInterfaces)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_properties",
		Description: "Return the security properties of one asset: threats, risk level, matched patterns, dangerous parameters and recorded vulnerabilities.",
		InputSchema: nameSchema("Asset name"),
	}, s.handleGetProperties)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "dependents_of",
		Description: "List assets depending on the named asset. Empty for unknown names.",
		InputSchema: nameSchema("Asset name"),
	}, s.handleDependentsOf)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "storage_accessors_of",
		Description: "List functions accessing the named storage item. Empty for unknown names.",
		InputSchema: nameSchema("Storage item name"),
	}, s.handleStorageAccessorsOf)

	if s.llm != nil {
		s.mcp.AddTool(&mcp.Tool{
			Name:        "translate_threat",
			Description: "Map a free-text security concern onto a known threat type and security check using the configured language model.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"description": {
						"type": "string",
						"description": "Free-text description of the concern"
					}
				},
				"required": ["description"]
			}`),
		}, s.handleTranslateThreat)
	}
}

func nameSchema(desc string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"name": {
				"type": "string",
				"description": %q
			}
		},
		"required": ["name"]
	}`, desc))
}

// jsonResult marshals data to JSON and returns as tool result.
func jsonResult(data any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errResult("json marshal err=" + err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}
}

// errResult returns a tool result indicating an error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// parseArgs unmarshals the raw JSON arguments into a map.
func parseArgs(req *mcp.CallToolRequest) (map[string]any, error) {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &m); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return m, nil
}

// getStringArg extracts a string argument from parsed args.
func getStringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// getIntArg extracts an integer argument with a default value.
func getIntArg(args map[string]any, key string, defaultVal int) int {
	f, ok := args[key].(float64) // JSON numbers decode as float64
	if !ok {
		return defaultVal
	}
	return int(f)
}

// getBoolArg extracts a boolean argument from parsed args.
func getBoolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}
