package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DeusData/pallet-audit/internal/apperr"
	"github.com/DeusData/pallet-audit/internal/config"
	"github.com/DeusData/pallet-audit/internal/llm"
	"github.com/DeusData/pallet-audit/internal/model"
	"github.com/DeusData/pallet-audit/internal/selfupdate"
	"github.com/DeusData/pallet-audit/internal/store"
	"github.com/DeusData/pallet-audit/internal/threat"
	"github.com/DeusData/pallet-audit/internal/tools"
)

const palletSource = `
#[frame_support::pallet]
pub mod pallet {
    #[pallet::storage]
    pub type Balances<T> = StorageMap<_, Blake2_128Concat, T::AccountId, u64>;

    #[pallet::call]
    impl<T: Config> Pallet<T> {
        pub fn transfer(origin: OriginFor<T>, amount: Balance, to: AccountId) -> DispatchResult {
            Ok(())
        }
    }

    impl<T: Config> Pallet<T> {
        fn check(x: u32) -> bool {
            x > 0
        }
    }
}
`

// run executes the CLI with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func setup(t *testing.T) (dir, src string) {
	t.Helper()
	dir = t.TempDir()
	src = filepath.Join(dir, "lib.rs")
	if err := os.WriteFile(src, []byte(palletSource), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir, src
}

func discoverTo(t *testing.T, src, inv string) {
	t.Helper()
	out, err := run(t, "discover", src, "-o", inv)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !strings.Contains(out, "Asset inventory saved to "+inv) {
		t.Fatalf("discover output:\n%s", out)
	}
}

func TestDiscoverThenAnalyzeJSON(t *testing.T) {
	dir, src := setup(t)
	inv := filepath.Join(dir, "inv.json")
	discoverTo(t, src, inv)

	out, err := run(t, "analyze", inv, "--format", "json")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var report analysisReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(report.Functions) != 2 || report.Functions[0].Function.Name != "transfer" {
		t.Fatalf("functions = %+v", report.Functions)
	}
	if report.Functions[0].RiskScore != 80 {
		t.Errorf("transfer score = %d, want 80", report.Functions[0].RiskScore)
	}
	if report.RiskCounts["critical"] != 1 {
		t.Errorf("risk counts = %v", report.RiskCounts)
	}
	defaults := threat.DefaultPatterns()
	if len(report.Patterns) != len(defaults) || report.Patterns[0] != defaults[0].Name {
		t.Errorf("patterns = %v", report.Patterns)
	}
}

func TestPatternNames(t *testing.T) {
	got := patternNames([]threat.ThreatPattern{
		{Name: "value-transfer", FunctionPatterns: []string{"transfer"}},
		{FunctionPatterns: []string{"set_admin", "sudo"}},
		{},
	})
	want := []string{"value-transfer", "set_admin", ""}
	if len(got) != len(want) {
		t.Fatalf("patternNames = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("patternNames[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAnalyzeTable(t *testing.T) {
	dir, src := setup(t)
	inv := filepath.Join(dir, "inv.json.zst")
	discoverTo(t, src, inv)

	out, err := run(t, "analyze", inv)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for _, want := range []string{"FUNCTION", "transfer", "critical", "amount"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestAnalyzeWritesSnapshotAndMetrics(t *testing.T) {
	dir, src := setup(t)
	inv := filepath.Join(dir, "inv.json")
	db := filepath.Join(dir, "snap.db")
	prom := filepath.Join(dir, "audit.prom")
	cfgPath := filepath.Join(dir, "audit.yaml")
	cfg := fmt.Sprintf("output:\n  snapshot_db: %s\n  metrics_file: %s\n", db, prom)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	discoverTo(t, src, inv)
	out, err := run(t, "--config", cfgPath, "analyze", inv)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(out, "Snapshot ") {
		t.Errorf("no snapshot line:\n%s", out)
	}

	st, err := store.OpenPath(db)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	snap, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Root != inv || len(snap.Assets) == 0 {
		t.Errorf("snapshot = %+v", snap)
	}

	metrics, err := os.ReadFile(prom)
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	if !strings.Contains(string(metrics), "pallet_audit_max_risk_score 80") {
		t.Errorf("metrics:\n%s", metrics)
	}
}

func TestAnalyzeExplain(t *testing.T) {
	orig := newLLM
	t.Cleanup(func() { newLLM = orig })

	dir, src := setup(t)
	inv := filepath.Join(dir, "inv.json")
	discoverTo(t, src, inv)

	newLLM = func(context.Context, *config.Config) (llm.Client, error) {
		return nil, nil
	}
	if _, err := run(t, "analyze", inv, "--explain"); !apperr.Is(err, apperr.InvalidInputError) {
		t.Errorf("explain without key: %v", err)
	}

	var prompts int
	newLLM = func(context.Context, *config.Config) (llm.Client, error) {
		return llm.ClientFunc(func(_ context.Context, prompt string) (string, error) {
			prompts++
			return "UserControlledInput InputSanitization", nil
		}), nil
	}
	out, err := run(t, "analyze", inv, "--explain", "--format", "json")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var report analysisReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatal(err)
	}
	if prompts != 1 {
		t.Errorf("prompts = %d, want 1 (only transfer scored)", prompts)
	}
	if th := report.Explanation["transfer"]; th.Name != model.UserControlledInput {
		t.Errorf("explanation = %+v", report.Explanation)
	}
}

func TestCommandErrors(t *testing.T) {
	dir, _ := setup(t)
	txt := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txt, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		kind apperr.Kind
	}{
		{"missing source", []string{"discover", filepath.Join(dir, "nope.rs")}, apperr.InvalidInputError},
		{"wrong extension", []string{"discover", txt}, apperr.InvalidInputError},
		{"missing inventory", []string{"analyze", filepath.Join(dir, "nope.json")}, apperr.InvalidInputError},
		{"bad inventory", []string{"analyze", txt}, apperr.FormatError},
		{"bad format", []string{"analyze", txt, "--format", "xml"}, apperr.InvalidInputError},
		{"bad log level", []string{"--log-level", "loud", "version"}, apperr.InvalidInputError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			if !apperr.Is(err, tt.kind) {
				t.Errorf("err = %v, want %s", err, tt.kind)
			}
		})
	}
}

func TestPrintError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{apperr.InvalidInput("file does not exist: x.rs"), "Invalid Input: file does not exist: x.rs\n"},
		{apperr.IO(errors.New("permission denied"), "read x.rs"), "IO Error: read x.rs\ncaused by: permission denied\n"},
		{errors.New("boom"), "error: boom\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		printError(&buf, tt.err)
		if buf.String() != tt.want {
			t.Errorf("printError(%v) = %q, want %q", tt.err, buf.String(), tt.want)
		}
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "pallet-audit "+tools.Version {
		t.Errorf("version = %q", out)
	}
}

func TestVersionCheck(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"tag_name":"v99.0.0","html_url":"https://example.test/r"}`)
	}))
	defer ts.Close()
	orig := selfupdate.ReleaseURL
	selfupdate.ReleaseURL = ts.URL
	t.Cleanup(func() { selfupdate.ReleaseURL = orig })

	out, err := run(t, "version", "--check")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Update available: 99.0.0") {
		t.Errorf("output = %q", out)
	}
}
