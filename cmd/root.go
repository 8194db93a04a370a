package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-blockinject/internal/config"
	"github.com/deploymenttheory/go-blockinject/internal/locators"
	"github.com/deploymenttheory/go-blockinject/internal/types"
	"github.com/deploymenttheory/go-blockinject/pkg/app"
)

var (
	// Global flags
	configPath   string
	verbose      bool
	quiet        bool
	outputFormat string

	// Loaded in PersistentPreRunE
	v   *viper.Viper
	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "blockinject",
	Short: "Filesystem-aware block I/O corruption injection",
	Long: `blockinject replays block I/O through an injection session that
corrupts or fails accesses to chosen filesystem metadata.

Sessions understand ext4 (superblocks, group descriptors, bitmaps, inodes,
directory entries, journal blocks) and f2fs (checkpoint, SIT, NAT, SSA,
inode, node and data blocks).

Commands:
  classify    Report what filesystem structure each block holds
  run         Replay reads or writes through a session into a new image
  config      Print the effective configuration
  grammar     Print the corruption specification grammar`,
	Version:       "0.1.0-dev",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./blockinject.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
}

// sessionFlags are shared by every command that opens a session.
func sessionFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("session", pflag.ContinueOnError)
	fs.String("fs", string(types.DefaultFSKind), fmt.Sprintf("filesystem kind %v", locators.Kinds()))
	fs.Uint64("start", 0, "start sector of the volume inside the image")
	fs.Bool("mounted", false, "load mounted-state context before classifying")
	return fs
}

// loadConfig reads the config file and binds the flags that override it.
func loadConfig(cmd *cobra.Command) error {
	v = config.New()
	bindings := map[string]string{
		"log_level":    "log-level",
		"log_format":   "log-format",
		"fs":           "fs",
		"start_sector": "start",
		"workers":      "workers",
		"lock":         "lock",
	}
	for key, flag := range bindings {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	if verbose {
		v.Set("log_level", "debug")
	}

	var err error
	cfg, err = config.Load(v, configPath)
	if err != nil {
		return err
	}
	log, err = cfg.Logger()
	if err != nil {
		return err
	}
	log.SetOutput(cmd.ErrOrStderr())
	if cfg.Source != "" {
		log.WithField("file", cfg.Source).Debug("config loaded")
	}
	return nil
}

// newContext builds the application context commands hand to handlers.
func newContext(cmd *cobra.Command) *app.Context {
	ctx := app.NewContext()
	if c := cmd.Context(); c != nil {
		ctx.Context = c
	}
	ctx.OutputFormat = outputFormat
	ctx.Verbose = verbose
	ctx.Quiet = quiet
	ctx.Out = cmd.OutOrStdout()
	ctx.Logger = logrus.NewEntry(log)
	if verbose && !quiet {
		ctx.SetProgress(func(message string, percent int) {
			log.WithField("percent", percent).Debug(message)
		})
	}
	return ctx
}

// fsKind returns the filesystem kind from the flag or the config.
func fsKind() (types.FSKind, error) {
	kind := types.FSKind(cfg.FS)
	if !locators.IsKind(cfg.FS) {
		return "", types.NewConfigError(cfg.FS, "unknown filesystem kind")
	}
	return kind, nil
}
