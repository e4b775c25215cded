package trailblazer

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var Fatal = FatalErrorHandler

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   getCommandLineExecutable(),
		Short: "Workflow-tracking service for bioinformatics analyses",
		Long: `Tracks analyses submitted to the cluster scheduler or the hosted
workflow platform, reconciles their state periodically and serves the
REST API used by order systems and dashboards.`,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if err := godotenv.Load(); err == nil {
				log.Ctx(cmd.Context()).Debug().Msg("loaded environment from .env")
			}
		},
	}
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newUserCmd())
	return rootCmd
}

func Execute() {
	rootCmd := NewRootCmd()
	rootCmd.SetContext(context.Background())
	rootCmd.SetOutput(os.Stdout)
	if err := rootCmd.Execute(); err != nil {
		Fatal(rootCmd, err.Error(), 1)
	}
}

func getCommandLineExecutable() string {
	return filepath.Base(os.Args[0])
}

func FatalErrorHandler(cmd *cobra.Command, msg string, code int) {
	if len(msg) > 0 {
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
		cmd.Print(msg)
	}
	os.Exit(code)
}
