package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cadre-oss/memchat/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Commands for viewing and checking the resolved configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	Long: `Show the configuration after memchat.yaml, .env, MEMCHAT_* environment
overrides, and defaults are applied. API keys are never printed.`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runConfigValidate,
}

var (
	resolveUser  string
	resolveModel string
)

var configResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show the per-turn settings a request would run with",
	RunE:  runConfigResolve,
}

func init() {
	configResolveCmd.Flags().StringVarP(&resolveUser, "user", "u", "", "request user id")
	configResolveCmd.Flags().StringVarP(&resolveModel, "model", "m", "", "request model as provider/name")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configResolveCmd)
}

func rawConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFile(cfgFile)
	}
	return config.Load(".")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := rawConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	shown := *cfg
	shown.Provider.APIKey = ""
	shown.Embedding.APIKey = ""
	out, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Current Configuration:")
	fmt.Fprintln(w, "----------------------")
	fmt.Fprintln(w, string(out))

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(w, "Config file: %s\n", viper.ConfigFileUsed())
	}
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := rawConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Configuration valid.")
	return nil
}

func runConfigResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	turn, err := cfg.Resolve(config.Overrides{UserID: resolveUser, Model: resolveModel})
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "user_id: %s\n", turn.UserID)
	fmt.Fprintf(w, "model:   %s\n", turn.ModelRef())
	fmt.Fprintf(w, "system_prompt:\n%s\n", turn.SystemPrompt)
	return nil
}
