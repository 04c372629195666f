package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cadre-oss/memchat/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "memchat",
	Short: "Conversational agent with long-term memory",
	Long: `memchat - a chat agent that remembers.

Runs conversations against a language model that can store, update,
delete, and search per-user memories. Relevant memories are recalled
into the system prompt on every model call.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the memchat command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./memchat.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	rootCmd.AddCommand(serveCmd, chatCmd, memoryCmd, threadsCmd, configCmd, doctorCmd, versionCmd)
}

// initConfig points viper at the config file so `config show` can report
// which one was used. Loading itself goes through the config package.
func initConfig() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("memchat")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig loads and validates the configuration for commands that run
// turns or open the stores.
func loadConfig() (*config.Config, error) {
	cfg, err := rawConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
