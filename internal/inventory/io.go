package inventory

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/DeusData/pallet-audit/internal/apperr"
	"github.com/DeusData/pallet-audit/internal/model"
)

// DefaultOutputPath is where discovery writes when no path is given.
const DefaultOutputPath = "asset-inventory.json"

// compressedSuffix marks zstd-compressed inventories.
const compressedSuffix = ".zst"

// ReadSource reads one Rust source file. A missing path or a non-.rs
// extension is InvalidInput; a read failure is IoError.
func ReadSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.InvalidInput("file does not exist: %s", path)
		}
		return nil, apperr.IO(err, "stat %s", path)
	}
	if info.IsDir() {
		return nil, apperr.InvalidInput("%s is a directory, expected .rs file", path)
	}
	if filepath.Ext(path) != ".rs" {
		return nil, apperr.InvalidInput("invalid file extension for %s, expected .rs file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.IO(err, "read %s", path)
	}
	return data, nil
}

// WriteFile serializes assets to path, overwriting it. Paths ending in .zst
// are zstd-compressed.
func WriteFile(path string, assets []model.Asset) error {
	data, err := Marshal(assets)
	if err != nil {
		return apperr.Format(err, "encode inventory")
	}
	if strings.HasSuffix(path, compressedSuffix) {
		if data, err = compress(data); err != nil {
			return apperr.IO(err, "compress %s", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperr.IO(err, "mkdir %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperr.IO(err, "write %s", path)
	}
	return nil
}

// ReadFile loads and decodes an inventory written by WriteFile.
func ReadFile(path string) ([]model.Asset, error) {
	assets, _, err := Load(path)
	return assets, err
}

// Load is ReadFile that also reports how many assets were dropped.
func Load(path string) ([]model.Asset, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, apperr.InvalidInput("inventory does not exist: %s", path)
		}
		return nil, 0, apperr.IO(err, "read %s", path)
	}
	if strings.HasSuffix(path, compressedSuffix) {
		if data, err = decompress(data); err != nil {
			return nil, 0, apperr.Format(err, "decompress %s", path)
		}
	}
	return Decode(data)
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
