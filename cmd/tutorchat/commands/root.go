// Package commands is the tutorchat command line client.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tutorchat/internal/apiclient"
	"tutorchat/internal/config"
	"tutorchat/internal/session"
	"tutorchat/internal/websocket"
)

var (
	configPath string
	apiURL     string
	token      string

	cfg    *config.Config
	client *apiclient.Client
)

func Execute() error {
	root := newRootCmd()
	return root.Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tutorchat",
		Short:         "Chat with matched tutors and students",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.LoadConfigWithPrecedence(configPath)
			if apiURL != "" {
				cfg.API.BaseURL = apiURL
			}
			if token != "" {
				cfg.API.Token = token
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			client = apiclient.New(cfg.API.BaseURL, cfg.API.Token, cfg.API.RequestTimeout)
			errOut := cmd.ErrOrStderr()
			client.OnUnauthorized(func() {
				fmt.Fprintln(errOut, "credential rejected: pass --token or set "+config.EnvPrefix+"TOKEN")
			})
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG_FILE"), "JSON config file")
	root.PersistentFlags().StringVar(&apiURL, "api", "", "backend base URL (e.g. http://localhost:8000)")
	root.PersistentFlags().StringVarP(&token, "token", "t", "", "bearer token")

	root.AddCommand(
		whoamiCmd(),
		sidebarCmd(),
		chatCmd(),
		availabilityCmd(),
		unreadCmd(),
		downloadURLCmd(),
	)
	return root
}

// newSession wires a session to the configured backend and live channel dialer
func newSession() (*session.Session, error) {
	return session.New(session.Config{
		Backend:            client,
		Dialer:             websocket.NewDialer(websocket.SettingsFromConfig(cfg.WebSocket)),
		ChannelBaseURL:     cfg.API.ChannelBaseURL(),
		ChannelBuffer:      cfg.WebSocket.BufferSize,
		HistoryPageSize:    cfg.API.HistoryPageSize,
		AttachmentMaxBytes: cfg.Attachment.MaxBytes,
		BadgeLimit:         cfg.Badge.Limit,
	})
}
