package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// mcpServerKey names our entry in editor MCP configs.
const mcpServerKey = "pallet-audit"

// installConfig holds settings for the install/uninstall commands.
type installConfig struct {
	dryRun  bool
	targets []string // explicit config files; empty means the known editors
}

// editorTarget is one editor's MCP config file.
type editorTarget struct {
	name string
	path string
}

func (ic installConfig) editors() []editorTarget {
	if len(ic.targets) > 0 {
		out := make([]editorTarget, 0, len(ic.targets))
		for _, p := range ic.targets {
			out = append(out, editorTarget{name: "custom", path: p})
		}
		return out
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []editorTarget{
		{"Cursor", filepath.Join(home, ".cursor", "mcp.json")},
		{"Windsurf", filepath.Join(home, ".codeium", "windsurf", "mcp_config.json")},
	}
}

func (c *cli) newInstallCmd() *cobra.Command {
	ic := installConfig{}
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Register `pallet-audit serve` in editor MCP configs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			binaryPath, err := detectBinaryPath()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, ed := range ic.editors() {
				fmt.Fprintf(w, "[%s] MCP config: %s\n", ed.name, ed.path)
				if ic.dryRun {
					fmt.Fprintf(w, "  [dry-run] Would upsert %s\n", mcpServerKey)
					continue
				}
				if err := upsertMCPServer(ed.path, binaryPath); err != nil {
					fmt.Fprintf(w, "  ! %v\n", err)
					continue
				}
				fmt.Fprintln(w, "  registered")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&ic.dryRun, "dry-run", false, "Show what would change")
	cmd.Flags().StringSliceVar(&ic.targets, "mcp-config", nil, "MCP config file to edit instead of the known editors (repeatable)")
	return cmd
}

func (c *cli) newUninstallCmd() *cobra.Command {
	ic := installConfig{}
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the pallet-audit entry from editor MCP configs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			for _, ed := range ic.editors() {
				removed, err := removeMCPServer(ed.path, ic.dryRun)
				switch {
				case err != nil:
					fmt.Fprintf(w, "[%s] ! %v\n", ed.name, err)
				case removed && ic.dryRun:
					fmt.Fprintf(w, "[%s] [dry-run] Would remove %s from %s\n", ed.name, mcpServerKey, ed.path)
				case removed:
					fmt.Fprintf(w, "[%s] Removed %s from %s\n", ed.name, mcpServerKey, ed.path)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&ic.dryRun, "dry-run", false, "Show what would change")
	cmd.Flags().StringSliceVar(&ic.targets, "mcp-config", nil, "MCP config file to edit instead of the known editors (repeatable)")
	return cmd
}

// detectBinaryPath resolves the current binary's real path.
func detectBinaryPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("detect binary: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("resolve symlink: %w", err)
	}
	return resolved, nil
}

// readMCPConfig returns the parsed config, or an empty one when the file is
// missing or not valid JSON.
func readMCPConfig(path string) (map[string]any, bool) {
	root := make(map[string]any)
	data, err := os.ReadFile(path)
	if err != nil {
		return root, false
	}
	if err := json.Unmarshal(data, &root); err != nil || root == nil {
		return make(map[string]any), false
	}
	return root, true
}

func writeMCPConfig(path string, root map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	out, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// upsertMCPServer sets our server entry in the mcpServers map of path,
// keeping every other entry.
func upsertMCPServer(path, binaryPath string) error {
	root, _ := readMCPConfig(path)
	servers, ok := root["mcpServers"].(map[string]any)
	if !ok {
		servers = make(map[string]any)
	}
	servers[mcpServerKey] = map[string]any{
		"command": binaryPath,
		"args":    []string{"serve"},
	}
	root["mcpServers"] = servers
	return writeMCPConfig(path, root)
}

// removeMCPServer deletes our entry from path. It reports whether there was
// one; a missing or unreadable file is left alone.
func removeMCPServer(path string, dryRun bool) (bool, error) {
	root, ok := readMCPConfig(path)
	if !ok {
		return false, nil
	}
	servers, ok := root["mcpServers"].(map[string]any)
	if !ok {
		return false, nil
	}
	if _, exists := servers[mcpServerKey]; !exists {
		return false, nil
	}
	if dryRun {
		return true, nil
	}
	delete(servers, mcpServerKey)
	root["mcpServers"] = servers
	return true, writeMCPConfig(path, root)
}

