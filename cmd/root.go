package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wycleffsean/linthost/pkg/workspace"
)

var cfgFile string

// RootCmd is the base command for linthost.
var RootCmd = &cobra.Command{
	Use:   "linthost",
	Short: "linthost is a whitespace and layout linter with a built-in language server.",
	Long: `linthost checks and fixes tabs, trailing whitespace, blank lines, missing final
newlines and overlong lines. Run it from the command line or let your editor
talk to it with "linthost server".`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// initConfig reads the optional user config file and the LINTHOST_*
// environment.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(dir, "linthost"))
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("LINTHOST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// A missing default config file is fine; anything else is reported.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
	}
}

// Execute runs the root command. An interrupt cancels the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := RootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errProblemsFound) && !errors.Is(err, errWouldReformat) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	flags := RootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/linthost/config.yaml)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-file", "", "write logs to this file with rotation instead of stderr")
	flags.String(workspace.Key, "", "workspace directory used when the editor sends none")
	for _, name := range []string{"log-level", "log-file", workspace.Key} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}
