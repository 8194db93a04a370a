package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/deploymenttheory/go-blockinject/internal/locators"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the config file,
BLOCKINJECT_* environment variables and flags.

Examples:
  blockinject config
  BLOCKINJECT_FS=ext4 blockinject config -o json`,

	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch outputFormat {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		case "yaml", "table":
			if cfg.Source != "" {
				fmt.Fprintf(out, "# %s\n", cfg.Source)
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		default:
			return fmt.Errorf("unsupported output format: %s", outputFormat)
		}
	},
}

var grammarCmd = &cobra.Command{
	Use:   "grammar",
	Short: "Print the corruption specification grammar",
	Long: `Print the specification prefixes every filesystem kind accepts.

A specification is [R|W|C]<prefix><number>[:<nth>][<field>]. R and W fail or
corrupt reads and writes, C corrupts any access. Directory rules take the
form dir<ino>, a path, or a kind keyword.`,

	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, kind := range locators.Kinds() {
			g, err := locators.Grammar(kind)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), g.Describe())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd, grammarCmd)
}
