package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PhucNguyen204/sigma-detect/internal/config"
	"github.com/PhucNguyen204/sigma-detect/internal/logger"
	"github.com/PhucNguyen204/sigma-detect/internal/rules"
	"github.com/PhucNguyen204/sigma-detect/pkg/condition"
	"github.com/PhucNguyen204/sigma-detect/pkg/engine"
	"github.com/PhucNguyen204/sigma-detect/pkg/sigma"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	rulesPath  string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:          "sigma-detect",
	Short:        "Sigma rule detection engine",
	Long:         `sigma-detect compiles Sigma rules once and evaluates events from HTTP, Redis or Kafka against them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			c.Logging.Level = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			c.Logging.Format = logFormat
		}
		if cmd.Flags().Changed("rules") {
			c.Rules.Path = rulesPath
		}
		if err := logger.Init(c.Logging.Level, c.Logging.Format, c.Logging.File); err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}
		cfg = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, console)")
	rootCmd.PersistentFlags().StringVar(&rulesPath, "rules", "", "rule file or directory (overrides rules.path)")
}

func Execute() error {
	return rootCmd.Execute()
}

// engineOptions builds engine options from the loaded config.
func engineOptions(m *engine.Metrics) engine.Options {
	opts := engine.DefaultOptions()
	opts.Condition = condition.DefaultOptions().WithMaxDepth(cfg.Condition.MaxDepth)
	opts.DisablePrefilter = cfg.Rules.DisablePrefilter
	opts.Metrics = m
	return opts
}

func loadRuleset(m *engine.Metrics) (*rules.Ruleset, sigma.FieldMapping, error) {
	fm, err := rules.LoadFieldMapping(cfg.Rules.FieldMapping)
	if err != nil {
		return nil, sigma.FieldMapping{}, err
	}
	rs, err := rules.Compile(cfg.Rules.Path, fm, engineOptions(m))
	return rs, fm, err
}
