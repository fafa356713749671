package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/tmsync/internal/core"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

var configCheck bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the tmsync configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after defaults and TMSYNC_* environment
overrides are applied. The Jira API token is redacted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Config == nil {
			return fmt.Errorf("configuration not loaded")
		}
		cfg := *Config
		if cfg.Jira.APIToken != "" {
			cfg.Jira.APIToken = redacted
		}
		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return fmt.Errorf("formatting configuration: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the configuration values and the Jira credentials.

With --check the credentials are also verified against Jira.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Config == nil || ConfigMgr == nil {
			return fmt.Errorf("configuration not loaded")
		}
		if err := ConfigMgr.ValidateConfig(Config); err != nil {
			return err
		}
		if err := core.ValidateTrackerConfig(Config); err != nil {
			return fmt.Errorf("jira credentials: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Configuration is valid.")

		if !configCheck {
			return nil
		}
		if Tracker == nil {
			return fmt.Errorf("jira client not initialized")
		}
		account, err := Tracker.Ping(commandContext(cmd))
		if err != nil {
			return fmt.Errorf("checking jira credentials: %w", err)
		}
		fmt.Fprintf(out, "Authenticated to %s as %s.\n", Config.Jira.BaseURL, account.DisplayName)
		return nil
	},
}

func init() {
	configValidateCmd.Flags().BoolVar(&configCheck, "check", false, "Verify the credentials against Jira")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
