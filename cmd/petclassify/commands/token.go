package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/petclassify/internal/auth"
)

func tokenCmd() *cobra.Command {
	var (
		subject  string
		secret   string
		audience string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a classifier host",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("secret required (--secret or JWT_SECRET)")
			}
			token, err := auth.IssueToken(secret, subject, audience, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "user the token identifies")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret shared with the host")
	cmd.Flags().StringVar(&audience, "audience", "", "audience claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
