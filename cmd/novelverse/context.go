package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"novelverse/internal/api"
	"novelverse/internal/config"
)

type commandContext struct {
	configFlag *string
	serverFlag *string
	tokenFlag  *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, serverFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		serverFlag: serverFlag,
		tokenFlag:  tokenFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(flagValue(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

// serverAddress is the --server flag, or the configured bind address with a
// wildcard host replaced by loopback.
func (c *commandContext) serverAddress() string {
	if value := flagValue(c.serverFlag); value != "" {
		return value
	}
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		return ""
	}
	return dialableBind(cfg.Server.Bind)
}

func (c *commandContext) token() string {
	if value := flagValue(c.tokenFlag); value != "" {
		return value
	}
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		return ""
	}
	return cfg.Server.APIToken
}

func (c *commandContext) apiClient() (*api.Client, error) {
	return api.NewClient(c.serverAddress(), c.token())
}

func dialableBind(bind string) string {
	bind = strings.TrimSpace(bind)
	switch {
	case strings.HasPrefix(bind, ":"):
		return "127.0.0.1" + bind
	case strings.HasPrefix(bind, "0.0.0.0:"):
		return "127.0.0.1" + strings.TrimPrefix(bind, "0.0.0.0")
	case strings.HasPrefix(bind, "[::]:"):
		return "[::1]" + strings.TrimPrefix(bind, "[::]")
	default:
		return bind
	}
}

func flagValue(flag *string) string {
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(*flag)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
