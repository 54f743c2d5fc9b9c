package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// download-url <attachment-id>: print an authenticated download link.
func downloadURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download-url <attachment-id>",
		Short: "Print an authenticated attachment download link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attachmentID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || attachmentID <= 0 {
				return fmt.Errorf("invalid attachment id %q", args[0])
			}
			link, err := client.AttachmentDownloadURL(attachmentID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		},
	}
}
