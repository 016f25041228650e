// Package registry holds the assets of one inventory snapshot and answers
// security queries over them.
//
// A Registry is a plain value owned by its caller. It does no locking; wrap
// it if several goroutines share one.
package registry

import (
	"log/slog"
	"sort"

	"github.com/DeusData/pallet-audit/internal/model"
)

// Registry indexes assets by name.
//
// The dependents and accessors maps get an empty entry for every function and
// storage asset, but nothing fills them yet: call-graph and storage-access
// analysis would populate them through AddDependent and AddAccessor.
type Registry struct {
	assets     map[string]*model.Asset
	order      []string
	dependents map[string][]string
	accessors  map[string][]string
	vulns      map[string][]model.Threat
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		assets:     make(map[string]*model.Asset),
		dependents: make(map[string][]string),
		accessors:  make(map[string][]string),
		vulns:      make(map[string][]model.Threat),
	}
}

// Register inserts asset, replacing any earlier asset of the same name. The
// replaced asset keeps its original position in Assets().
func (r *Registry) Register(asset model.Asset) {
	if _, dup := r.assets[asset.Name]; dup {
		slog.Warn("registry.overwrite", "name", asset.Name, "category", asset.Category.Kind)
	} else {
		r.order = append(r.order, asset.Name)
	}
	a := asset
	r.assets[asset.Name] = &a

	switch {
	case asset.Category.IsFunction():
		if _, ok := r.dependents[asset.Name]; !ok {
			r.dependents[asset.Name] = []string{}
		}
	case asset.Category.Kind == model.KindStorage:
		if _, ok := r.accessors[asset.Name]; !ok {
			r.accessors[asset.Name] = []string{}
		}
	}
}

// RegisterAll registers assets in order.
func (r *Registry) RegisterAll(assets []model.Asset) {
	for _, a := range assets {
		r.Register(a)
	}
	slog.Debug("registry.loaded", "assets", len(r.assets))
}

// Get returns a copy of the named asset.
func (r *Registry) Get(name string) (model.Asset, bool) {
	a, ok := r.assets[name]
	if !ok {
		return model.Asset{}, false
	}
	return *a, true
}

// Assets returns copies of all assets in first-registration order.
func (r *Registry) Assets() []model.Asset {
	out := make([]model.Asset, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.assets[name])
	}
	return out
}

// Len returns the number of distinct asset names.
func (r *Registry) Len() int {
	return len(r.assets)
}

// Properties returns the named asset's properties.
func (r *Registry) Properties(name string) (model.Properties, bool) {
	a, ok := r.assets[name]
	if !ok {
		return model.Properties{}, false
	}
	return a.Properties, true
}

// SetProperties replaces the named asset's properties. It returns false and
// changes nothing when no such asset is registered.
func (r *Registry) SetProperties(name string, props model.Properties) bool {
	a, ok := r.assets[name]
	if !ok {
		return false
	}
	a.Properties = props
	return true
}

// DependentsOf lists the assets depending on name; empty for unknown names.
func (r *Registry) DependentsOf(name string) []string {
	return clone(r.dependents[name])
}

// StorageAccessorsOf lists the functions touching a storage item; empty for
// unknown names.
func (r *Registry) StorageAccessorsOf(name string) []string {
	return clone(r.accessors[name])
}

// AddDependent records that dependent depends on name.
func (r *Registry) AddDependent(name, dependent string) {
	r.dependents[name] = append(r.dependents[name], dependent)
}

// AddAccessor records that fn reads or writes storage.
func (r *Registry) AddAccessor(storage, fn string) {
	r.accessors[storage] = append(r.accessors[storage], fn)
}

// RecordVulnerability appends threat under name. name need not be a
// registered asset.
func (r *Registry) RecordVulnerability(name string, threat model.Threat) {
	r.vulns[name] = append(r.vulns[name], threat)
}

// ClearVulnerabilities forgets every threat recorded under name.
func (r *Registry) ClearVulnerabilities(name string) {
	delete(r.vulns, name)
}

// VulnerableNames lists the names with recorded threats, registered or not,
// in sorted order.
func (r *Registry) VulnerableNames() []string {
	out := make([]string, 0, len(r.vulns))
	for name, v := range r.vulns {
		if len(v) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Vulnerabilities returns the threats recorded under name.
func (r *Registry) Vulnerabilities(name string) []model.Threat {
	v := r.vulns[name]
	out := make([]model.Threat, len(v))
	copy(out, v)
	return out
}

// AssetsByRisk returns the assets whose risk level is exactly level.
func (r *Registry) AssetsByRisk(level model.RiskLevel) []model.Asset {
	return r.filter(func(a *model.Asset) bool {
		return a.Properties.RiskLevel == level
	})
}

// PublicInterfaces returns the public entry points: PublicFunction assets
// that are also declared public.
func (r *Registry) PublicInterfaces() []model.Asset {
	return r.filter(func(a *model.Asset) bool {
		return a.Category.Kind == model.KindPublicFunction && a.Visibility == model.Public
	})
}

// Functions returns every function-like asset.
func (r *Registry) Functions() []model.Asset {
	return r.filter(func(a *model.Asset) bool {
		return a.Category.IsFunction()
	})
}

func (r *Registry) filter(keep func(*model.Asset) bool) []model.Asset {
	out := []model.Asset{}
	for _, name := range r.order {
		if a := r.assets[name]; keep(a) {
			out = append(out, *a)
		}
	}
	return out
}

func clone(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
