package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pinboard/api/internal/auth"
	"pinboard/api/internal/rbac"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the board API",
	RunE:  runToken,
}

func init() {
	flags := tokenCmd.Flags()
	flags.String("subject", "boardctl", "token subject (user id)")
	flags.String("role", string(rbac.RoleMember), "role: viewer, member or admin")
	flags.Duration("ttl", time.Hour, "token lifetime")
	flags.String("secret", "", "signing secret (default PINBOARD_JWT_SECRET)")
	_ = viper.BindPFlag("jwt_secret", flags.Lookup("secret"))
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	secret := viper.GetString("jwt_secret")
	if secret == "" {
		return fmt.Errorf("signing secret required: use --secret or set PINBOARD_JWT_SECRET")
	}
	subject, _ := cmd.Flags().GetString("subject")
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	if rbac.Normalize(role) != rbac.Role(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	token, err := auth.Issue([]byte(secret), auth.NewClaims(subject, role, ttl, time.Now()))
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
