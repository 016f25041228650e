package registry

import (
	"testing"

	"github.com/DeusData/pallet-audit/internal/model"
)

func sampleAssets() []model.Asset {
	return []model.Asset{
		{Name: "transfer", Visibility: model.Public, Category: model.PublicFunction([]model.Parameter{{Name: "amount", Type: "Balance"}}, "")},
		{Name: "check", Visibility: model.Private, Category: model.Helper(nil, "")},
		// Inconsistent on purpose: PublicFunction category but private visibility.
		{Name: "odd", Visibility: model.Private, Category: model.PublicFunction(nil, "")},
		{Name: "Balances", Visibility: model.Public, Category: model.Storage("Balances", model.Public)},
		{Name: "MaxLen", Visibility: model.None, Category: model.Constant("MaxLen", "Get<u32>")},
	}
}

func TestUnknownNames(t *testing.T) {
	r := New()
	if got := r.DependentsOf("X"); got == nil || len(got) != 0 {
		t.Errorf("DependentsOf(X) = %#v, want empty", got)
	}
	if got := r.StorageAccessorsOf("X"); got == nil || len(got) != 0 {
		t.Errorf("StorageAccessorsOf(X) = %#v, want empty", got)
	}
	if r.SetProperties("X", model.Properties{RiskLevel: model.High}) {
		t.Error("SetProperties on unknown name returned true")
	}
	if _, ok := r.Properties("X"); ok {
		t.Error("SetProperties must not insert")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d", r.Len())
	}
}

func TestRegisterInitialisesEdgeMaps(t *testing.T) {
	r := New()
	r.RegisterAll(sampleAssets())

	if _, ok := r.dependents["transfer"]; !ok {
		t.Error("function should get a dependents entry")
	}
	if _, ok := r.dependents["check"]; !ok {
		t.Error("helper should get a dependents entry")
	}
	if _, ok := r.accessors["Balances"]; !ok {
		t.Error("storage should get an accessors entry")
	}
	if _, ok := r.dependents["MaxLen"]; ok {
		t.Error("constant should not get a dependents entry")
	}
	if got := r.DependentsOf("transfer"); len(got) != 0 {
		t.Errorf("DependentsOf(transfer) = %v", got)
	}

	r.AddDependent("check", "transfer")
	r.AddAccessor("Balances", "transfer")
	if got := r.DependentsOf("check"); len(got) != 1 || got[0] != "transfer" {
		t.Errorf("DependentsOf(check) = %v", got)
	}
	if got := r.StorageAccessorsOf("Balances"); len(got) != 1 || got[0] != "transfer" {
		t.Errorf("StorageAccessorsOf(Balances) = %v", got)
	}
}

func TestRegisterOverwrites(t *testing.T) {
	r := New()
	r.RegisterAll(sampleAssets())
	r.Register(model.Asset{Name: "check", Visibility: model.Public, Category: model.PublicFunction(nil, "")})

	if r.Len() != 5 {
		t.Errorf("Len = %d, want 5", r.Len())
	}
	got, ok := r.Get("check")
	if !ok || got.Visibility != model.Public || got.Category.Kind != model.KindPublicFunction {
		t.Errorf("Get(check) = %v, %v", got, ok)
	}
	if order := r.Assets(); order[1].Name != "check" {
		t.Errorf("overwritten asset moved: %v", order)
	}
}

func TestSetProperties(t *testing.T) {
	r := New()
	r.RegisterAll(sampleAssets())

	props := model.Properties{
		RiskLevel:       model.Critical,
		ValidationRules: []string{"amount > 0"},
	}
	if !r.SetProperties("transfer", props) {
		t.Fatal("SetProperties(transfer) = false")
	}
	got, ok := r.Properties("transfer")
	if !ok || got.RiskLevel != model.Critical || len(got.ValidationRules) != 1 {
		t.Errorf("Properties(transfer) = %+v, %v", got, ok)
	}
	if p, _ := r.Properties("check"); p.RiskLevel != model.Low {
		t.Errorf("default risk = %v, want low", p.RiskLevel)
	}
}

func TestRecordVulnerabilityIndependentOfAssets(t *testing.T) {
	r := New()
	threat := model.Threat{Name: model.UserControlledInput, HowToCheck: model.InputSanitization}
	r.RecordVulnerability("ghost", threat)
	r.RecordVulnerability("ghost", threat)

	if got := r.Vulnerabilities("ghost"); len(got) != 2 {
		t.Errorf("Vulnerabilities(ghost) = %v", got)
	}
	if r.Len() != 0 {
		t.Error("recording a vulnerability must not register an asset")
	}
	if got := r.Vulnerabilities("other"); len(got) != 0 {
		t.Errorf("Vulnerabilities(other) = %v", got)
	}
}

func TestClearVulnerabilities(t *testing.T) {
	r := New()
	threat := model.Threat{Name: model.UserControlledInput, HowToCheck: model.InputSanitization}
	r.RecordVulnerability("b", threat)
	r.RecordVulnerability("a", threat)
	r.RecordVulnerability("a", threat)

	if got := r.VulnerableNames(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("VulnerableNames = %v", got)
	}
	r.ClearVulnerabilities("a")
	r.ClearVulnerabilities("missing")
	if got := r.Vulnerabilities("a"); len(got) != 0 {
		t.Errorf("Vulnerabilities(a) after clear = %v", got)
	}
	if got := r.VulnerableNames(); len(got) != 1 || got[0] != "b" {
		t.Errorf("VulnerableNames after clear = %v", got)
	}
}

func TestAssetsByRisk(t *testing.T) {
	r := New()
	r.RegisterAll(sampleAssets())
	r.SetProperties("transfer", model.Properties{RiskLevel: model.High})
	r.SetProperties("Balances", model.Properties{RiskLevel: model.Critical})

	tests := []struct {
		level model.RiskLevel
		want  []string
	}{
		{model.High, []string{"transfer"}},
		{model.Critical, []string{"Balances"}},
		{model.Medium, nil},
		{model.Low, []string{"check", "odd", "MaxLen"}},
	}
	for _, tt := range tests {
		got := r.AssetsByRisk(tt.level)
		if len(got) != len(tt.want) {
			t.Errorf("AssetsByRisk(%v) = %v, want %v", tt.level, got, tt.want)
			continue
		}
		for i, name := range tt.want {
			if got[i].Name != name {
				t.Errorf("AssetsByRisk(%v)[%d] = %s, want %s", tt.level, i, got[i].Name, name)
			}
		}
	}
}

func TestPublicInterfacesRequiresBothConditions(t *testing.T) {
	r := New()
	r.RegisterAll(sampleAssets())

	got := r.PublicInterfaces()
	if len(got) != 1 || got[0].Name != "transfer" {
		t.Errorf("PublicInterfaces = %v, want [transfer]", got)
	}
	if fns := r.Functions(); len(fns) != 3 {
		t.Errorf("Functions = %v", fns)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := New()
	r.RegisterAll(sampleAssets())
	a, _ := r.Get("transfer")
	a.Properties.RiskLevel = model.Critical
	if p, _ := r.Properties("transfer"); p.RiskLevel != model.Low {
		t.Error("mutating a returned asset changed the registry")
	}
}
