package agent

import "github.com/crewsnap/crewsnap/internal/config"

const DefaultAgentName = "main"

// Resolve determines the active agent name using precedence:
// 1. flagOverride (--agent flag)
// 2. config.toml default_agent
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultAgent != "" {
		return cfg.DefaultAgent
	}
	return DefaultAgentName
}
