package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wycleffsean/linthost/internal/lsp"
	"github.com/wycleffsean/linthost/pkg/workspace"
)

const workersKey = "workers"

// serverCmd represents the language server command.
var serverCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"lsp"},
	Short:   "Launch the language server for linthost.",
	Long:    `The server command speaks the Language Server Protocol over stdin and stdout, publishing diagnostics and formatting documents for supported editors.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if target := viper.GetString(workspace.Key); target != "" {
			if err := workspace.SetSpec(cmd.Context(), target, nil); err != nil {
				return fmt.Errorf("resolving workspace %q: %w", target, err)
			}
		}

		workers := viper.GetInt(workersKey)
		logger.Info("starting language server", zap.String("version", gitVersion), zap.Int("workers", workers))
		return lsp.Serve(cmd.Context(), lsp.Options{
			Workers: workers,
			Logger:  logger,
			Version: gitVersion,
		})
	},
}

func defaultWorkers() int {
	return min(runtime.NumCPU(), 4)
}

func init() {
	serverCmd.Flags().Int(workersKey, defaultWorkers(), "number of background workers")
	_ = viper.BindPFlag(workersKey, serverCmd.Flags().Lookup(workersKey))
	RootCmd.AddCommand(serverCmd)
}
