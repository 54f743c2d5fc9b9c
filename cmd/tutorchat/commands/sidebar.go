package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"tutorchat/pkg/types"
)

// sidebar: list matched tutors (students) or conversations (tutors).
func sidebarCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "sidebar",
		Short: "List matched tutors or existing conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := s.Start(ctx); err != nil {
				return err
			}
			if refresh {
				if err := s.Refresh(ctx); err != nil {
					return err
				}
			}

			state, err := s.Snapshot(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(state.Sidebar) == 0 {
				fmt.Fprintln(out, "(empty)")
				return nil
			}
			for _, item := range state.Sidebar {
				fmt.Fprintln(out, formatSidebarItem(item))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "recompute match scores first")
	return cmd
}

func formatSidebarItem(item types.SidebarItem) string {
	switch v := item.(type) {
	case types.Match:
		return fmt.Sprintf("tutor %-6d %-24s score %.2f", v.TutorID, v.Title(), v.SimilarityScore)
	case types.ConversationRef:
		line := fmt.Sprintf("conv  %-6d %-24s user %d", v.ConversationID, v.Title(), v.OtherUserID)
		if v.LastMessage != nil {
			line += "  last: " + preview(v.LastMessage.Content, 40)
		}
		return line
	default:
		return item.Key()
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
