package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// whoami: print the signed-in user.
func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := client.Me(cmd.Context())
			if err != nil {
				return err
			}
			identity := me.Identity()
			name := strings.TrimSpace(me.FirstName + " " + me.LastName)
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s %s\n", identity.UserID, identity.Role, name)
			return nil
		},
	}
}
