// ABOUTME: MCP server configuration loading for launched agent processes
// ABOUTME: Loads TOML config with environment variable expansion

package agentproc

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// McpConfig lists the MCP servers an agent process should connect to.
type McpConfig struct {
	Servers map[string]McpServer `toml:"servers"`
}

// McpServer describes one MCP server. Either Command (stdio transport) or URL
// (HTTP transport) is set.
type McpServer struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
	URL     string            `toml:"url"`
}

// LoadMcpConfig reads an MCP server config from the given path, expanding
// ${VAR} environment references.
func LoadMcpConfig(path string) (*McpConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading MCP config: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg McpConfig
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing MCP config: %w", err)
	}

	for name, srv := range cfg.Servers {
		if srv.Command == "" && srv.URL == "" {
			return nil, fmt.Errorf("mcp server %q: either command or url is required", name)
		}
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}
