package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/DeusData/pallet-audit/internal/apperr"
	"github.com/DeusData/pallet-audit/internal/config"
	"github.com/DeusData/pallet-audit/internal/inventory"
	"github.com/DeusData/pallet-audit/internal/llm"
	"github.com/DeusData/pallet-audit/internal/metrics"
	"github.com/DeusData/pallet-audit/internal/model"
	"github.com/DeusData/pallet-audit/internal/pipeline"
	"github.com/DeusData/pallet-audit/internal/registry"
	"github.com/DeusData/pallet-audit/internal/selfupdate"
	"github.com/DeusData/pallet-audit/internal/store"
	"github.com/DeusData/pallet-audit/internal/threat"
	"github.com/DeusData/pallet-audit/internal/tools"
)

// newLLM builds the language-model client. Tests replace it.
var newLLM = func(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	key := config.APIKey()
	if key == "" {
		return nil, nil
	}
	g, err := llm.NewGeminiClient(ctx, key, cfg.EffectiveModel())
	if err != nil {
		return nil, err
	}
	return llm.Wrap(g,
		llm.WithCache(cfg.EffectiveCacheSize()),
		llm.WithRateLimit(cfg.EffectiveRPS(), cfg.EffectiveBurst()),
	), nil
}

func (c *cli) engine() (*threat.Engine, error) {
	e, err := threat.NewEngine(c.cfg.EffectivePatterns())
	if err != nil {
		return nil, apperr.InvalidInput("threat patterns: %v", err)
	}
	return e, nil
}

func (c *cli) openStore() (*store.Store, error) {
	path := c.cfg.EffectiveSnapshotDB()
	if path == "" {
		return nil, nil
	}
	st, err := store.OpenPath(path)
	if err != nil {
		return nil, apperr.IO(err, "open snapshot db %s", path)
	}
	return st, nil
}

func (c *cli) writeMetrics(rec *metrics.Recorder) error {
	path := c.cfg.EffectiveMetricsFile()
	if path == "" {
		return nil
	}
	if err := rec.WriteTextfile(path); err != nil {
		return apperr.IO(err, "write metrics %s", path)
	}
	return nil
}

func (c *cli) newDiscoverCmd() *cobra.Command {
	var (
		output       string
		keepGoing    bool
		includeTests bool
		workers      int
	)
	cmd := &cobra.Command{
		Use:   "discover <path>",
		Short: "Parse a pallet file, crate or workspace and write its asset inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = c.cfg.EffectiveInventoryPath()
			}
			rec := metrics.New()
			res, err := pipeline.Run(cmd.Context(), args[0], pipeline.Options{
				Workers:      workers,
				IncludeTests: includeTests,
				KeepGoing:    keepGoing,
				Metrics:      rec,
			})
			if err != nil {
				return err
			}
			if err := inventory.WriteFile(output, res.Assets); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Discovered %d assets in %d files\n", len(res.Assets), len(res.Files))
			counts := inventory.CountByKind(res.Assets)
			for _, k := range []model.CategoryKind{
				model.KindPublicFunction, model.KindHelper, model.KindStorage,
				model.KindConstant, model.KindEvent, model.KindError,
			} {
				if n := counts[k]; n > 0 {
					fmt.Fprintf(w, "  %-15s %d\n", k, n)
				}
			}
			for _, cr := range res.Crates {
				if cr.Pallet {
					fmt.Fprintf(w, "Pallet crate: %s (%s)\n", cr.Name, cr.Dir)
				}
			}
			fmt.Fprintf(w, "Digest: %s\n", res.Digest)
			fmt.Fprintf(w, "Asset inventory saved to %s\n", output)
			return c.writeMetrics(rec)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Inventory path (default from config, then "+inventory.DefaultOutputPath+"); .zst compresses")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "Skip files that fail to parse")
	cmd.Flags().BoolVar(&includeTests, "include-tests", false, "Also parse tests/, benches/ and examples/")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parse concurrency (default NumCPU)")
	return cmd
}

// analysisReport is the JSON form of analyze.
type analysisReport struct {
	Inventory   string                          `json:"inventory"`
	Dropped     int                             `json:"dropped"`
	RiskCounts  map[string]int                  `json:"risk_counts"`
	Patterns    []string                        `json:"patterns"`
	Functions   []threat.FunctionThreatAnalysis `json:"functions"`
	Explanation map[string]model.Threat         `json:"explanation,omitempty"`
	RunID       string                          `json:"run_id,omitempty"`
}

func (c *cli) newAnalyzeCmd() *cobra.Command {
	var (
		format  string
		explain bool
	)
	cmd := &cobra.Command{
		Use:   "analyze <inventory>",
		Short: "Score the functions of an inventory against the threat patterns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "table" && format != "json" {
				return apperr.InvalidInput("unknown format %q, expected table or json", format)
			}
			e, err := c.engine()
			if err != nil {
				return err
			}

			rec := metrics.New()
			done := rec.Stage("load")
			assets, dropped, err := inventory.Load(args[0])
			done()
			if err != nil {
				return err
			}
			rec.Dropped(dropped)

			done = rec.Stage("analyze")
			reg, results := pipeline.Analyze(assets, e)
			done()
			rec.ObserveAssets(reg.Assets())
			if len(results) > 0 {
				rec.MaxScore(results[0].RiskScore)
			}

			report := analysisReport{
				Inventory:  args[0],
				Dropped:    dropped,
				RiskCounts: riskCounts(reg),
				Patterns:   patternNames(e.Patterns()),
				Functions:  results,
			}

			if explain {
				client, err := newLLM(cmd.Context(), c.cfg)
				if err != nil {
					return fmt.Errorf("llm client: %w", err)
				}
				if client == nil {
					return apperr.InvalidInput("--explain needs %s", config.APIKeyEnv)
				}
				report.Explanation = explainAll(cmd.Context(), client, results)
			}

			st, err := c.openStore()
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
				snap := store.SnapshotOf(args[0], "", reg)
				if err := st.Save(snap); err != nil {
					return apperr.IO(err, "save snapshot")
				}
				report.RunID = snap.RunID
			}

			switch format {
			case "json":
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			default:
				printTable(cmd.OutOrStdout(), reg, report)
			}
			return c.writeMetrics(rec)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table|json")
	cmd.Flags().BoolVar(&explain, "explain", false, "Map each risky function onto a threat type with the language model")
	return cmd
}

func riskCounts(reg *registry.Registry) map[string]int {
	out := make(map[string]int)
	for lvl := model.Low; lvl <= model.Critical; lvl++ {
		out[lvl.String()] = len(reg.AssetsByRisk(lvl))
	}
	return out
}

// explainAll asks the model about every function that matched a pattern.
// Failures are logged and leave the function out.
func explainAll(ctx context.Context, client llm.Client, results []threat.FunctionThreatAnalysis) map[string]model.Threat {
	out := make(map[string]model.Threat)
	for _, r := range results {
		if r.RiskScore == 0 {
			continue
		}
		params := make([]string, 0, len(r.Function.Parameters))
		for _, p := range r.Function.Parameters {
			params = append(params, p.Name+": "+p.Type)
		}
		desc := fmt.Sprintf("Function %s(%s) with risk score %d. %s",
			r.Function.Name, strings.Join(params, ", "), r.RiskScore, strings.Join(r.MatchedPatterns, ". "))
		th, err := threat.TranslateDescription(ctx, client, desc)
		if err != nil {
			slog.Warn("analyze.explain.err", "function", r.Function.Name, "err", err)
			continue
		}
		out[r.Function.Name] = th
	}
	return out
}

// patternNames lists pattern names in engine order; unnamed patterns show
// their first function pattern.
func patternNames(ps []threat.ThreatPattern) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		name := p.Name
		if name == "" && len(p.FunctionPatterns) > 0 {
			name = p.FunctionPatterns[0]
		}
		out = append(out, name)
	}
	return out
}

func printTable(w io.Writer, reg *registry.Registry, report analysisReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FUNCTION\tSCORE\tRISK\tDANGEROUS PARAMS")
	for _, r := range report.Functions {
		names := make([]string, 0, len(r.DangerousParams))
		for _, p := range r.DangerousParams {
			names = append(names, p.Name)
		}
		risk := model.RiskLevelForScore(r.RiskScore)
		if p, ok := reg.Properties(r.Function.Name); ok {
			risk = p.RiskLevel
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.Function.Name, r.RiskScore, risk, strings.Join(names, ","))
	}
	tw.Flush()

	fmt.Fprintln(w)
	for lvl := model.Critical; lvl >= model.Low; lvl-- {
		fmt.Fprintf(w, "%-8s %d\n", lvl, report.RiskCounts[lvl.String()])
	}
	if report.Dropped > 0 {
		fmt.Fprintf(w, "Dropped %d unreadable inventory entries\n", report.Dropped)
	}

	if len(report.Explanation) > 0 {
		fmt.Fprintln(w, "\nExplanations:")
		names := make([]string, 0, len(report.Explanation))
		for name := range report.Explanation {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			th := report.Explanation[name]
			fmt.Fprintf(w, "  %s: %s (check: %s)\n", name, th.Name, th.HowToCheck)
		}
	}
	if report.RunID != "" {
		fmt.Fprintf(w, "Snapshot %s saved\n", report.RunID)
	}
}

func (c *cli) newServeCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := c.engine()
			if err != nil {
				return err
			}
			st, err := c.openStore()
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}
			client, err := newLLM(cmd.Context(), c.cfg)
			if err != nil {
				slog.Warn("serve.llm.disabled", "err", err)
				client = nil
			}

			srv := tools.NewServer(c.cfg, e, tools.Options{Store: st, LLM: client, Watch: watch})
			slog.Info("serve.start", "version", tools.Version, "snapshot", st != nil, "llm", client != nil, "watch", watch)
			return srv.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Re-run discovery when the discovered sources change")
	return cmd
}

func newVersionCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "pallet-audit", tools.Version)
			if !check {
				return nil
			}
			rel, newer, err := selfupdate.Check(cmd.Context(), tools.Version)
			if err != nil {
				return fmt.Errorf("check for update: %w", err)
			}
			if newer {
				fmt.Fprintf(w, "Update available: %s %s\n", rel.LatestVersion(), rel.HTMLURL)
			} else {
				fmt.Fprintln(w, "Up to date")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Check GitHub for a newer release")
	return cmd
}
