package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tutorchat/internal/badge"
)

// unread: print the unread notification count, once or on every poll.
func unreadCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Show the unread notification count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			feed := badge.NewFeed(client, cfg.Badge.Limit)
			out := cmd.OutOrStdout()

			if !watch {
				fmt.Fprintln(out, feed.CountUnread(cmd.Context()))
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			last := -1
			feed.Poll(ctx, cfg.Badge.PollInterval, func(count int) {
				if count != last {
					fmt.Fprintln(out, count)
					last = count
				}
			})
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep polling until interrupted")
	return cmd
}
