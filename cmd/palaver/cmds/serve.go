package cmds

import (
	"fmt"
	"os"
	"time"

	"github.com/go-go-golems/palaver/pkg/config"
	"github.com/go-go-golems/palaver/pkg/server"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sessions over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.FromViper()
			if err != nil {
				return err
			}

			if subject, _ := cmd.Flags().GetString("print-token"); subject != "" {
				if settings.Server.JWTSecret == "" {
					return errors.New("--print-token needs --jwt-secret")
				}
				expiry, _ := cmd.Flags().GetDuration("token-expiry")
				token, err := server.NewToken([]byte(settings.Server.JWTSecret), subject, expiry)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(os.Stdout, token)
				return err
			}

			registry := server.NewRegistry(settings.Engine, session.WithSystemPrompt(settings.SystemPrompt))
			srv := server.New(registry, server.WithJWTSecret(settings.Server.JWTSecret))

			log.Info().
				Str("engine", string(settings.Engine.Type)).
				Str("model", settings.Engine.Model).
				Bool("auth", settings.Server.JWTSecret != "").
				Msg("serving sessions")

			return srv.Run(cmd.Context(), settings.Server.Address)
		},
	}

	cmd.Flags().String("print-token", "", "Print a bearer token for this subject and exit")
	cmd.Flags().Duration("token-expiry", 24*time.Hour, "Validity of tokens printed with --print-token")

	return cmd
}
