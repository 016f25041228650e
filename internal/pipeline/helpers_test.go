package pipeline

import (
	"github.com/DeusData/pallet-audit/internal/discover"
	"github.com/DeusData/pallet-audit/internal/lang"
)

func discoverFiles(rels ...string) []discover.FileInfo {
	out := make([]discover.FileInfo, 0, len(rels))
	for _, r := range rels {
		out = append(out, discover.FileInfo{Path: "/" + r, RelPath: r, Language: lang.Rust})
	}
	return out
}
