package main

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tractools/internal/logging"
	"tractools/pkg/config"
	"tractools/pkg/csd"
)

type commandContext struct {
	configPath string
	verbose    bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	// csdOptions are passed to every fitter; tests use them to replace the
	// executor
	csdOptions []csd.Option
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := config.DefaultFileName
		if p := strings.TrimSpace(c.configPath); p != "" {
			path = p
		}
		c.config, c.configErr = config.LoadConfig(path)
	})
	return c.config, c.configErr
}

// logger builds the logger for one command. Verbosity comes from --verbose
// or the configuration file.
func (c *commandContext) logger(cmd *cobra.Command, component string) zerolog.Logger {
	verbose := c.verbose
	if cfg, err := c.ensureConfig(); err == nil && cfg.Output.Verbose {
		verbose = true
	}
	return logging.Component(logging.New(cmd.ErrOrStderr(), logging.Options{Verbose: verbose}), component)
}

func (c *commandContext) newFitter(cmd *cobra.Command) (*csd.Fitter, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return csd.New(cfg.CSD.Binary, c.logger(cmd, "csd"), c.csdOptions...)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
