package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/palaver/cmd/palaver/cmds"
	"github.com/go-go-golems/palaver/pkg/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
)

var rootCmd = &cobra.Command{
	Use:   "palaver",
	Short: "palaver keeps a conversation with a language model",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// flags are parsed by now, so --config and --log-level are known
		if err := config.InitViper("palaver", cmd.Root()); err != nil {
			return err
		}
		settings, err := config.FromViper()
		if err != nil {
			return err
		}
		return config.InitLogger(settings)
	},
	SilenceUsage: true,
}

func main() {
	// a missing .env is fine
	_ = gotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("palaver failed")
		stop()
		os.Exit(1)
	}
}

func init() {
	config.AddFlags(rootCmd)

	rootCmd.AddCommand(
		cmds.NewChatCommand(),
		cmds.NewPromptCommand(),
		cmds.NewServeCommand(),
		cmds.NewSchemaCommand(),
		cmds.NewMemoryCommand(),
	)
}
