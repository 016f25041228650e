// Package inventory turns visitor findings into canonical assets and moves
// them across the interchange document boundary.
package inventory

import (
	"github.com/DeusData/pallet-audit/internal/model"
	"github.com/DeusData/pallet-audit/internal/visitor"
)

// Classify converts raw findings into assets. Output order is functions,
// storage, constants, events, errors, each group in source order.
//
// Events and errors are always public and constants never carry visibility,
// whatever their source qualifiers say.
func Classify(f *visitor.Findings) []model.Asset {
	assets := make([]model.Asset, 0, f.Len())

	for _, fn := range f.Functions {
		vis, cat := model.Private, model.Helper(fn.Parameters, fn.ReturnType)
		if fn.Public {
			vis, cat = model.Public, model.PublicFunction(fn.Parameters, fn.ReturnType)
		}
		assets = append(assets, model.Asset{Name: fn.Name, Visibility: vis, Category: cat})
	}

	for _, s := range f.Storage {
		vis := model.Private
		if s.Public {
			vis = model.Public
		}
		assets = append(assets, model.Asset{Name: s.Name, Visibility: vis, Category: model.Storage(s.Name, vis)})
	}

	for _, c := range f.Constants {
		assets = append(assets, model.Asset{
			Name:       c.Name,
			Visibility: model.None,
			Category:   model.Constant(c.Name, c.ValueType),
		})
	}

	for _, e := range f.Events {
		assets = append(assets, model.Asset{
			Name:       e.Name,
			Visibility: model.Public,
			Category:   model.Event(e.Name, e.Fields),
		})
	}

	for _, e := range f.Errors {
		assets = append(assets, model.Asset{
			Name:       e.Name,
			Visibility: model.Public,
			Category:   model.Error(e.Name, e.Fields),
		})
	}

	return assets
}

// CountByKind tallies assets per category.
func CountByKind(assets []model.Asset) map[model.CategoryKind]int {
	counts := make(map[model.CategoryKind]int)
	for _, a := range assets {
		counts[a.Category.Kind]++
	}
	return counts
}
