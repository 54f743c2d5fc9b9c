package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"tutorchat/internal/attachment"
	"tutorchat/internal/channel"
	"tutorchat/internal/session"
	"tutorchat/pkg/types"
)

const chatHelp = `Type a message and press enter to send.
  /attach <path> [caption]   upload a file
  /refresh                   reload the sidebar and this conversation
  /quit                      leave`

// chat <counterpart-id>: students pass a tutor id, tutors a conversation id.
func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <tutor-id|conversation-id>",
		Short: "Open a live conversation",
		Long:  "Open a live conversation.\nStudents pass a matched tutor's id, tutors pass a conversation id.\n\n" + chatHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid id %q", args[0])
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Start(ctx); err != nil {
				return err
			}
			state, err := s.Snapshot(ctx)
			if err != nil {
				return err
			}
			if state.Identity.IsStudent() {
				err = s.SelectTutor(ctx, id)
			} else {
				err = s.SelectConversation(ctx, id)
			}
			if err != nil {
				return err
			}

			states, unwatch, err := s.Watch(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printer := newChatPrinter(out, state.Identity.UserID)
			printed := make(chan struct{})
			go func() {
				defer close(printed)
				for st := range states {
					printer.render(st)
				}
			}()
			defer func() {
				unwatch()
				<-printed
			}()

			fmt.Fprintln(out, chatHelp)
			return readLines(ctx, cmd.InOrStdin(), func(line string) bool {
				quit, err := runChatLine(ctx, s, line)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
				}
				return quit
			})
		},
	}
}

// readLines feeds input lines to handle until it returns true, input ends, or ctx is done
func readLines(ctx context.Context, in io.Reader, handle func(string) bool) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			if handle(line) {
				return nil
			}
		}
	}
}

// runChatLine executes one line of chat input
func runChatLine(ctx context.Context, s *session.Session, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, s.Send(ctx, line)
	}

	command, rest, _ := strings.Cut(line, " ")
	switch command {
	case "/quit", "/exit":
		return true, nil
	case "/refresh":
		return false, s.Refresh(ctx)
	case "/attach":
		path, caption, _ := strings.Cut(strings.TrimSpace(rest), " ")
		if path == "" {
			return false, errors.New("usage: /attach <path> [caption]")
		}
		file, closer, err := attachment.Open(path)
		if err != nil {
			return false, err
		}
		defer closer.Close()
		_, err = s.Attach(ctx, caption, file)
		return false, err
	default:
		return false, fmt.Errorf("unknown command %s", command)
	}
}

// chatPrinter writes each message once and reports channel transitions
type chatPrinter struct {
	out     io.Writer
	self    int64
	seen    map[int64]bool
	channel channel.State
	lastErr error
	header  bool
}

func newChatPrinter(out io.Writer, self int64) *chatPrinter {
	return &chatPrinter{out: out, self: self, seen: make(map[int64]bool), channel: channel.StateIdle}
}

func (p *chatPrinter) render(st session.State) {
	if !p.header && st.Selection != nil {
		fmt.Fprintf(p.out, "--- %s (conversation %d) ---\n", st.Selection.Title, st.Selection.Conversation.ID)
		p.header = true
	}

	for _, m := range st.Messages {
		if p.seen[m.ID] {
			continue
		}
		p.seen[m.ID] = true
		fmt.Fprintln(p.out, p.formatMessage(m))
	}

	if st.Channel != p.channel {
		p.channel = st.Channel
		fmt.Fprintf(p.out, "[channel %s]\n", st.Channel)
	}
	if st.LastError != nil && !errors.Is(st.LastError, p.lastErr) {
		fmt.Fprintf(p.out, "[error] %v\n", st.LastError)
	}
	p.lastErr = st.LastError
}

func (p *chatPrinter) formatMessage(m types.Message) string {
	who := "them"
	if m.SenderID == p.self {
		who = "me"
	}
	line := fmt.Sprintf("%s %-4s", m.CreatedAt.Local().Format("15:04"), who)
	if m.Content != "" {
		line += " " + m.Content
	}
	if a := m.Attachment; a != nil {
		line += fmt.Sprintf(" [attachment %d: %s, %d bytes]", a.ID, a.FileName, a.SizeBytes)
	}
	return strings.TrimRight(line, " ")
}
