package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"taskflow/internal/auth"
	"taskflow/internal/config"
	"taskflow/internal/db"
)

var tokenEmail string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for an existing user",
	Long: `Print a signed access token for the user with the given email.

Useful for poking the websocket endpoint by hand:
  wscat -c "ws://localhost:8080/ws?token=$(taskflow token --email me@example.com)"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		gdb, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}

		token, err := issueToken(cmd.Context(), gdb, auth.NewJWT(cfg.JWTSecret, cfg.JWTTTL), tokenEmail)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "Email of the user to sign for")
	_ = tokenCmd.MarkFlagRequired("email")
}

func issueToken(ctx context.Context, gdb *gorm.DB, j *auth.JWT, email string) (string, error) {
	users := &auth.Users{DB: gdb}
	u, err := users.FindUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return "", fmt.Errorf("user %q: %w", email, err)
	}
	return j.Sign(u.ID, u.Email)
}
