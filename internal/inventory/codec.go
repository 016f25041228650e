package inventory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DeusData/pallet-audit/internal/apperr"
	"github.com/DeusData/pallet-audit/internal/model"
)

// Category tags of the interchange document.
const (
	TagStorage        = "Storage"
	TagEvents         = "Events"
	TagConstant       = "Constant"
	TagError          = "Error"
	TagPublicFunction = "PublicFunction"
	TagHelper         = "Helper"
)

var kindTags = map[model.CategoryKind]string{
	model.KindStorage:        TagStorage,
	model.KindEvent:          TagEvents,
	model.KindConstant:       TagConstant,
	model.KindError:          TagError,
	model.KindPublicFunction: TagPublicFunction,
	model.KindHelper:         TagHelper,
}

type wireAsset struct {
	Visibility string         `json:"visibility"`
	Name       string         `json:"name"`
	Category   map[string]any `json:"category"`
}

type wireDocument struct {
	Assets []wireAsset `json:"assets"`
}

// Marshal encodes assets as the interchange document:
//
//	{"assets":[{"visibility":"public","name":"transfer",
//	  "category":{"PublicFunction":["transfer",[["amount","Balance"]]]}}]}
//
// Function payloads are positional (name, then [name, type] pairs). Storage
// is [name, visibility]; constants, events and errors carry just the name.
func Marshal(assets []model.Asset) ([]byte, error) {
	doc := wireDocument{Assets: make([]wireAsset, 0, len(assets))}
	for _, a := range assets {
		tag, ok := kindTags[a.Category.Kind]
		if !ok {
			return nil, fmt.Errorf("asset %q: unknown category kind %q", a.Name, a.Category.Kind)
		}
		doc.Assets = append(doc.Assets, wireAsset{
			Visibility: string(a.Visibility),
			Name:       a.Name,
			Category:   map[string]any{tag: payload(a)},
		})
	}
	return json.Marshal(doc)
}

func payload(a model.Asset) any {
	switch a.Category.Kind {
	case model.KindPublicFunction, model.KindHelper:
		pairs := make([][2]string, 0, len(a.Category.Parameters))
		for _, p := range a.Category.Parameters {
			pairs = append(pairs, [2]string{p.Name, p.Type})
		}
		return []any{a.Name, pairs}
	case model.KindStorage:
		vis := a.Visibility
		if a.Category.Storage != nil {
			vis = a.Category.Storage.Visibility
		}
		return [2]string{a.Name, string(vis)}
	default:
		return a.Name
	}
}

// Unmarshal decodes an interchange document. A document that is not an
// object with an "assets" array is a FormatError. Individual assets that
// cannot be understood (unknown tag, non-object) are dropped and logged;
// missing visibility defaults to none and missing parameter lists to empty.
// Properties always start at their zero value.
func Unmarshal(data []byte) ([]model.Asset, error) {
	assets, _, err := Decode(data)
	return assets, err
}

// Decode is Unmarshal that also reports how many assets were dropped.
func Decode(data []byte) (assets []model.Asset, dropped int, err error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, apperr.Format(err, "inventory is not a JSON object")
	}
	if doc == nil {
		return nil, 0, apperr.Format(nil, "inventory is not a JSON object")
	}
	raw, ok := doc["assets"]
	if !ok {
		return nil, 0, apperr.Format(nil, "inventory has no assets array")
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, 0, apperr.Format(nil, "inventory assets is not an array")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, 0, apperr.Format(err, "inventory assets is not an array")
	}

	assets = make([]model.Asset, 0, len(items))
	for i, item := range items {
		a, reason := decodeAsset(item)
		if reason != "" {
			slog.Warn("inventory.asset.drop", "index", i, "reason", reason)
			dropped++
			continue
		}
		assets = append(assets, a)
	}
	return assets, dropped, nil
}

// decodeAsset returns a non-empty reason when the asset must be dropped.
func decodeAsset(raw json.RawMessage) (model.Asset, string) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return model.Asset{}, "not_an_object"
	}

	a := model.Asset{
		Name:       stringOr(fields["name"], ""),
		Visibility: model.ParseVisibility(stringOr(fields["visibility"], "none")),
	}

	var category map[string]json.RawMessage
	if err := json.Unmarshal(fields["category"], &category); err != nil || len(category) != 1 {
		return model.Asset{}, "bad_category"
	}
	for tag, body := range category {
		switch tag {
		case TagPublicFunction:
			a.Category = model.PublicFunction(decodeParams(body), "")
		case TagHelper:
			a.Category = model.Helper(decodeParams(body), "")
		case TagStorage:
			a.Category = model.Storage(a.Name, a.Visibility)
		case TagConstant:
			a.Category = model.Constant(a.Name, "")
		case TagEvents:
			a.Category = model.Event(a.Name, nil)
		case TagError:
			a.Category = model.Error(a.Name, nil)
		default:
			return model.Asset{}, "unknown_category:" + tag
		}
	}
	return a, ""
}

// decodeParams reads the [[name, type], ...] list at position 1 of a
// function payload. Anything missing or malformed yields an empty list.
func decodeParams(body json.RawMessage) []model.Parameter {
	params := []model.Parameter{}
	var tuple []json.RawMessage
	if err := json.Unmarshal(body, &tuple); err != nil || len(tuple) < 2 {
		return params
	}
	var pairs []json.RawMessage
	if err := json.Unmarshal(tuple[1], &pairs); err != nil {
		return params
	}
	for i, pair := range pairs {
		var parts []json.RawMessage
		if err := json.Unmarshal(pair, &parts); err != nil {
			slog.Debug("inventory.param.malformed", "index", i, "err", err)
		}
		p := model.Parameter{}
		if len(parts) > 0 {
			p.Name = stringOr(parts[0], "")
		}
		if len(parts) > 1 {
			p.Type = stringOr(parts[1], "")
		}
		params = append(params, p)
	}
	return params
}

func stringOr(raw json.RawMessage, def string) string {
	if raw == nil {
		return def
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return def
	}
	return s
}
