package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readServers(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		t.Fatal(err)
	}
	servers, _ := root["mcpServers"].(map[string]any)
	return servers
}

func TestUpsertKeepsOtherServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	if err := os.WriteFile(path, []byte(`{"mcpServers":{"other":{"command":"x"}},"theme":"dark"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := upsertMCPServer(path, "/usr/local/bin/pallet-audit"); err != nil {
			t.Fatal(err)
		}
	}
	servers := readServers(t, path)
	if len(servers) != 2 || servers["other"] == nil {
		t.Fatalf("servers = %v", servers)
	}
	entry, _ := servers[mcpServerKey].(map[string]any)
	if entry["command"] != "/usr/local/bin/pallet-audit" {
		t.Errorf("entry = %v", entry)
	}
	if args, _ := entry["args"].([]any); len(args) != 1 || args[0] != "serve" {
		t.Errorf("args = %v", entry["args"])
	}
}

func TestUpsertReplacesInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mcp.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{not json`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := upsertMCPServer(path, "bin"); err != nil {
		t.Fatal(err)
	}
	if servers := readServers(t, path); len(servers) != 1 {
		t.Errorf("servers = %v", servers)
	}
}

func TestRemoveMCPServer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp.json")
	if err := upsertMCPServer(path, "bin"); err != nil {
		t.Fatal(err)
	}

	removed, err := removeMCPServer(path, true)
	if err != nil || !removed {
		t.Fatalf("dry run = %v, %v", removed, err)
	}
	if servers := readServers(t, path); servers[mcpServerKey] == nil {
		t.Fatal("dry run removed the entry")
	}

	if removed, err := removeMCPServer(path, false); err != nil || !removed {
		t.Fatalf("remove = %v, %v", removed, err)
	}
	if servers := readServers(t, path); servers[mcpServerKey] != nil {
		t.Error("entry still present")
	}
	if removed, _ := removeMCPServer(path, false); removed {
		t.Error("second remove reported an entry")
	}
	if removed, err := removeMCPServer(filepath.Join(dir, "missing.json"), false); removed || err != nil {
		t.Errorf("missing file = %v, %v", removed, err)
	}
}

func TestInstallCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")

	out, err := run(t, "install", "--mcp-config", path, "--dry-run")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "[dry-run]") {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("dry run wrote the config")
	}

	if _, err := run(t, "install", "--mcp-config", path); err != nil {
		t.Fatal(err)
	}
	if servers := readServers(t, path); servers[mcpServerKey] == nil {
		t.Errorf("servers = %v", servers)
	}

	out, err = run(t, "uninstall", "--mcp-config", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Removed "+mcpServerKey) {
		t.Errorf("output = %q", out)
	}
}
