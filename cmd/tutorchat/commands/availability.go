package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// availability <user-id>: tutors only.
func availabilityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "availability <user-id>",
		Short: "Show a student's posted availability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || userID <= 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}

			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := s.Start(ctx); err != nil {
				return err
			}
			groups, err := s.ViewAvailability(ctx, userID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(groups) == 0 {
				fmt.Fprintln(out, "No availability posted")
				return nil
			}
			for _, g := range groups {
				fmt.Fprintf(out, "%-4s %s\n", g.Label, strings.Join(g.Ranges, ", "))
			}
			return nil
		},
	}
}
