// AngelaMos | 2026
// commands.go

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/carterperez-dev/templates/crm-backend/internal/auth"
	"github.com/carterperez-dev/templates/crm-backend/internal/policy"
)

func newKeygenCmd() *cobra.Command {
	var privatePath, publicPath string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ES256 signing key pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, p := range []string{privatePath, publicPath} {
				if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
					return fmt.Errorf("create key dir: %w", err)
				}
			}
			if err := auth.GenerateKeyPair(privatePath, publicPath); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", privatePath, publicPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&privatePath, "private", "keys/private.pem", "private key output path")
	cmd.Flags().StringVar(&publicPath, "public", "keys/public.pem", "public key output path")

	return cmd
}

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect authorization policy",
	}

	var file string
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate a policy override file and print the effective tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap := policy.Default()
			if file != "" {
				loaded, err := policy.LoadFile(file)
				if err != nil {
					return err
				}
				snap = loaded
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap.View())
		},
	}
	check.Flags().StringVar(&file, "file", "", "policy override file; builtin tables when empty")

	cmd.AddCommand(check)
	return cmd
}

func newTokensCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Refresh token maintenance",
	}

	var grace time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete refresh tokens that expired longer than --grace ago",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			d, err := bootstrap(ctx, *configPath)
			if err != nil {
				return err
			}
			defer d.close(ctx)

			n, err := d.auth.PruneExpired(ctx, grace)
			if err != nil {
				return err
			}
			d.logger.Info("refresh tokens pruned", "deleted", n, "grace", grace)
			return nil
		},
	}
	prune.Flags().DurationVar(&grace, "grace", 24*time.Hour, "keep expired tokens this long for reuse detection")

	cmd.AddCommand(prune)
	return cmd
}
