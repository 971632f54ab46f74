package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"bloompos/backend/internal/config"
	"bloompos/backend/internal/httpapi"
)

type TokenOptions struct {
	*RootOptions
	Username string
	Role     string
}

func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with AUTH_SECRET",
		Long: `Issue a bearer token for local testing. Production tokens come from the
identity service; this signs with the same AUTH_SECRET.

Examples:
  AUTH_SECRET=... bloomctl token --user ana --role cashier`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Username, "user", "", "token subject (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().StringVar(&opts.Role, "role", httpapi.RoleCashier, "cashier|admin")
	return cmd
}

type issuedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func runToken(opts *TokenOptions, cmd *cobra.Command) error {
	cfg := config.Load()
	if len(cfg.AuthSecret) < 32 {
		return WrapExitError(ExitCommandError, "AUTH_SECRET must be set and at least 32 characters", nil)
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), cfg.ManagerPIN)
	token, expiresAt, err := auth.IssueToken(opts.Username, opts.Role)
	if err != nil {
		return WrapExitError(ExitCommandError, "issue token failed", err)
	}

	out := issuedToken{Token: token, ExpiresAt: expiresAt}
	return emit(cmd.OutOrStdout(), opts.Format, out, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, token)
		return err
	})
}
