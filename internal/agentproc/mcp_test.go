// ABOUTME: Tests for MCP server configuration loading
// ABOUTME: Verifies TOML parsing, env expansion, and command-or-url validation

package agentproc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMcpConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcp.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadMcpConfig(t *testing.T) {
	path := writeMcpConfig(t, `
[servers.filesystem]
command = "mcp-fs"
args = ["--root", "/work"]

[servers.filesystem.env]
FS_MODE = "readonly"

[servers.search]
url = "http://localhost:9200/mcp"
`)

	cfg, err := LoadMcpConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 2)

	fs := cfg.Servers["filesystem"]
	assert.Equal(t, "mcp-fs", fs.Command)
	assert.Equal(t, []string{"--root", "/work"}, fs.Args)
	assert.Equal(t, "readonly", fs.Env["FS_MODE"])

	assert.Equal(t, "http://localhost:9200/mcp", cfg.Servers["search"].URL)
}

func TestLoadMcpConfig_EnvExpansion(t *testing.T) {
	t.Setenv("MCP_TOKEN", "s3cret")
	path := writeMcpConfig(t, `
[servers.api]
command = "mcp-api"

[servers.api.env]
TOKEN = "${MCP_TOKEN}"
`)

	cfg, err := LoadMcpConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Servers["api"].Env["TOKEN"])
}

func TestLoadMcpConfig_RequiresCommandOrURL(t *testing.T) {
	path := writeMcpConfig(t, `
[servers.broken]
args = ["--flag"]
`)

	_, err := LoadMcpConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "either command or url is required")
}

func TestLoadMcpConfig_MissingFile(t *testing.T) {
	_, err := LoadMcpConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
