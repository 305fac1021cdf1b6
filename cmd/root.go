// Package cmd implements the bidigo command-line interface: commands to
// connect to an already-running BiDi remote end, or to launch one and
// then connect.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	projectName = "bidigo"
	cfgFile     string
	logLevel    string
	cmdTimeout  time.Duration

	rootCmd = &cobra.Command{
		Use:   "bidigo",
		Short: "A WebDriver BiDi protocol client",
		Long:  longRoot,
	}
)

// Execute is the CLI's entry point.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "",
		"config file (default is $HOME/."+projectName+"/config.yml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info",
		"log level: debug, info, warn, error",
	)
	rootCmd.PersistentFlags().DurationVar(
		&cmdTimeout, "command-timeout", 10*time.Second,
		"default timeout for a round-trip command",
	)

	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("command_timeout", rootCmd.PersistentFlags().Lookup("command-timeout"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/." + projectName)
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
	}

	viper.SetEnvPrefix("BIDIGO")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintln(os.Stderr, "bidigo: reading config:", err)
		}
	}
}

func resolvedLogLevel() string {
	if v := viper.GetString("log_level"); v != "" {
		return v
	}
	return logLevel
}

func resolvedCommandTimeout() time.Duration {
	if v := viper.GetDuration("command_timeout"); v > 0 {
		return v
	}
	return cmdTimeout
}

var longRoot = `
bidigo is a WebDriver BiDi protocol client: it dials a remote end's
WebSocket endpoint, sends commands, and dispatches events through a
typed subscriber API.
`
