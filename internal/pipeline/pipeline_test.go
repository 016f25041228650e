package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DeusData/pallet-audit/internal/apperr"
	"github.com/DeusData/pallet-audit/internal/model"
	"github.com/DeusData/pallet-audit/internal/threat"
)

const palletLib = `#[frame_support::pallet]
pub mod pallet {
    #[pallet::storage]
    pub type Balances<T> = StorageMap<Prefix, Blake2_128Concat, u64, u128>;

    #[pallet::event]
    pub enum Event<T: Config> {
        Transferred { amount: u128 },
    }

    #[pallet::call]
    impl<T: Config> Pallet<T> {
        pub fn transfer(origin: OriginFor<T>, amount: Balance, to: AccountId) -> DispatchResult {
            Ok(())
        }
    }
}
`

const palletHelpers = `impl<T: Config> Pallet<T> {
    fn check(x: u32) -> bool {
        x > 0
    }
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

// workspace lays out a pallet crate and a plain crate under one root.
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Cargo.toml"), "[workspace]\nmembers = [\"pallets/*\", \"tools/cli\"]\n")
	writeFile(t, filepath.Join(dir, "pallets", "bank", "Cargo.toml"),
		"[package]\nname = \"pallet-bank\"\n\n[dependencies]\nframe-support = { workspace = true }\n")
	writeFile(t, filepath.Join(dir, "pallets", "bank", "src", "lib.rs"), palletLib)
	writeFile(t, filepath.Join(dir, "pallets", "bank", "src", "helpers.rs"), palletHelpers)
	writeFile(t, filepath.Join(dir, "tools", "cli", "Cargo.toml"), "[package]\nname = \"cli\"\n\n[dependencies]\nclap = \"4\"\n")
	writeFile(t, filepath.Join(dir, "tools", "cli", "src", "main.rs"), "impl Cli { pub fn run(&self) {} }\n")
	return dir
}

func TestRunWorkspace(t *testing.T) {
	res, err := Run(context.Background(), workspace(t), Options{Workers: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Crates) != 2 {
		t.Fatalf("crates = %+v", res.Crates)
	}
	pallets := 0
	for _, c := range res.Crates {
		if c.Pallet {
			pallets++
			if c.Name != "pallet-bank" || c.Dir != "pallets/bank" {
				t.Errorf("pallet crate = %+v", c)
			}
		}
	}
	if pallets != 1 {
		t.Errorf("expected 1 pallet crate, got %d", pallets)
	}

	if len(res.Files) != 2 {
		t.Fatalf("parsed files = %+v", res.Files)
	}
	// helpers.rs sorts before lib.rs, so check comes first.
	names := make([]string, 0, len(res.Assets))
	for _, a := range res.Assets {
		names = append(names, a.Name)
	}
	want := []string{"check", "transfer", "Balances", "Transferred"}
	if len(names) != len(want) {
		t.Fatalf("assets = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("asset %d = %s, want %s", i, names[i], want[i])
		}
	}
	if res.Digest == "" {
		t.Error("expected a digest")
	}
}

func TestRunSingleFileWithoutManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.rs")
	writeFile(t, path, palletHelpers)

	res, err := Run(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Assets) != 1 || res.Assets[0].Name != "check" || res.Assets[0].Category.Kind != model.KindHelper {
		t.Errorf("assets = %v", res.Assets)
	}
}

func TestRunInputErrors(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	writeFile(t, txt, "hello")

	for _, path := range []string{filepath.Join(dir, "missing"), txt} {
		_, err := Run(context.Background(), path, Options{})
		if !apperr.Is(err, apperr.InvalidInputError) {
			t.Errorf("Run(%s) = %v, want InvalidInput", path, err)
		}
	}
}

func TestRunParseErrorIsFatalUnlessKeepGoing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.rs"), palletHelpers)
	writeFile(t, filepath.Join(dir, "b.rs"), "impl Foo { pub fn broken( }")

	_, err := Run(context.Background(), dir, Options{})
	if !apperr.Is(err, apperr.ParseError) {
		t.Fatalf("expected ParseError, got %v", err)
	}

	res, err := Run(context.Background(), dir, Options{KeepGoing: true})
	if err != nil {
		t.Fatalf("Run with KeepGoing: %v", err)
	}
	if len(res.Assets) != 1 {
		t.Errorf("assets = %v", res.Assets)
	}
}

func TestDigestTracksContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lib.rs")
	writeFile(t, path, palletHelpers)

	first, err := Run(context.Background(), dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	again, err := Run(context.Background(), dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if first.Digest != again.Digest {
		t.Error("digest changed without source changes")
	}

	writeFile(t, path, palletHelpers+"\n// edited\n")
	changed, err := Run(context.Background(), dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if changed.Digest == first.Digest {
		t.Error("digest did not change after an edit")
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, workspace(t), Options{}); err == nil {
		t.Error("expected cancellation error")
	}
}

func TestAnalyze(t *testing.T) {
	res, err := Run(context.Background(), workspace(t), Options{})
	if err != nil {
		t.Fatal(err)
	}
	e, err := threat.NewEngine([]threat.ThreatPattern{{
		Name:              "value-transfer",
		FunctionPatterns:  []string{"transfer"},
		ParameterPatterns: []string{"Balance"},
		RiskScore:         80,
	}})
	if err != nil {
		t.Fatal(err)
	}
	reg, results := Analyze(res.Assets, e)

	if reg.Len() != len(res.Assets) {
		t.Errorf("registry has %d assets, want %d", reg.Len(), len(res.Assets))
	}
	if len(results) != 2 || results[0].Function.Name != "transfer" || results[0].RiskScore != 80 {
		t.Errorf("results = %+v", results)
	}
	if pub := reg.PublicInterfaces(); len(pub) != 1 || pub[0].Name != "transfer" {
		t.Errorf("PublicInterfaces = %v", pub)
	}
}

func TestSelectSourcesDeepestCrateWins(t *testing.T) {
	crates := []Crate{
		{Name: "root", Dir: ".", Pallet: true},
		{Name: "nested", Dir: "crates/nested", Pallet: false},
	}
	files := selectSources(discoverFiles("src/lib.rs", "crates/nested/src/lib.rs", "crates/nestedx/lib.rs"), crates)
	if len(files) != 2 || files[0].RelPath != "src/lib.rs" || files[1].RelPath != "crates/nestedx/lib.rs" {
		t.Errorf("selected = %+v", files)
	}
}

func TestSelectSourcesRootCrateRanksLast(t *testing.T) {
	tests := []struct {
		name   string
		crates []Crate
		files  []string
		want   []string
	}{
		{
			name:   "one-letter pallet dir under non-pallet root",
			crates: []Crate{{Name: "root", Dir: ".", Pallet: false}, {Name: "p", Dir: "p", Pallet: true}},
			files:  []string{"p/src/lib.rs", "src/main.rs"},
			want:   []string{"p/src/lib.rs"},
		},
		{
			name:   "short nested dir beats longer shallow dir",
			crates: []Crate{{Name: "long", Dir: "pallets", Pallet: false}, {Name: "ab", Dir: "pallets/a", Pallet: true}},
			files:  []string{"pallets/a/lib.rs", "pallets/lib.rs"},
			want:   []string{"pallets/a/lib.rs"},
		},
		{
			name:   "root pallet keeps files outside nested crates",
			crates: []Crate{{Name: "x", Dir: "x", Pallet: false}, {Name: "root", Dir: ".", Pallet: true}},
			files:  []string{"lib.rs", "x/lib.rs"},
			want:   []string{"lib.rs"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectSources(discoverFiles(tt.files...), tt.crates)
			if len(got) != len(tt.want) {
				t.Fatalf("selected = %+v, want %v", got, tt.want)
			}
			for i, w := range tt.want {
				if got[i].RelPath != w {
					t.Errorf("selected[%d] = %s, want %s", i, got[i].RelPath, w)
				}
			}
		})
	}
}

func TestDirDepth(t *testing.T) {
	tests := []struct {
		dir  string
		want int
	}{
		{".", 0},
		{"p", 1},
		{"crates/nested", 2},
		{"a/b/c", 3},
	}
	for _, tt := range tests {
		if got := dirDepth(tt.dir); got != tt.want {
			t.Errorf("dirDepth(%q) = %d, want %d", tt.dir, got, tt.want)
		}
	}
}
