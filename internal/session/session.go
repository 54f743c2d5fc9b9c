// Package session coordinates one signed-in user's chat screen: identity,
// sidebar, the selected conversation, its history and its live channel.
//
// All state lives on a single event-loop goroutine. Public methods do their
// network work on the calling goroutine and hand results back to the loop,
// which discards any result that a newer request has superseded.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"

	"tutorchat/internal/attachment"
	"tutorchat/internal/availability"
	"tutorchat/internal/badge"
	"tutorchat/internal/channel"
	"tutorchat/internal/gateway"
	"tutorchat/internal/identity"
	"tutorchat/internal/reconciler"
	"tutorchat/internal/sidebar"
	"tutorchat/pkg/interfaces"
	"tutorchat/pkg/types"
)

// Config wires a Session to its collaborators
type Config struct {
	Backend            interfaces.Backend
	Dialer             interfaces.Dialer
	ChannelBaseURL     string // ws:// or wss:// base for live channels
	ChannelBuffer      int
	HistoryPageSize    int
	AttachmentMaxBytes int64
	BadgeLimit         int
}

// Selection is the conversation currently shown
type Selection struct {
	Key           string
	Title         string
	CounterpartID int64
	Conversation  types.Conversation
}

// State is an immutable snapshot handed to observers
type State struct {
	Identity     *types.Identity
	Sidebar      []types.SidebarItem
	Selection    *Selection
	Messages     []types.Message
	Channel      channel.State
	Live         bool
	Loading      bool
	Sending      bool
	Refreshing   bool
	Unauthorized bool
	Unread       int
	LastError    error

	AvailabilityFor int64
	Availability    []availability.DayGroup
}

func (s State) clone() State {
	out := s
	out.Sidebar = slices.Clone(s.Sidebar)
	out.Messages = slices.Clone(s.Messages)
	out.Availability = slices.Clone(s.Availability)
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	if s.Selection != nil {
		sel := *s.Selection
		out.Selection = &sel
	}
	return out
}

// Session is safe for concurrent use
type Session struct {
	backend  interfaces.Backend
	dialer   interfaces.Dialer
	wsBase   string
	buffer   int
	identity *identity.Resolver
	sidebar  *sidebar.Resolver
	gateway  *gateway.Gateway
	transfer *attachment.Transfer
	viewer   *availability.Viewer
	feed     *badge.Feed

	ops       chan func()
	done      chan struct{}
	ctx       context.Context // parent of every live channel
	cancel    context.CancelFunc
	closeOnce sync.Once

	// Owned by the loop goroutine
	state        State
	started      bool
	closed       bool
	selectionGen uint64
	sidebarGen   uint64
	availGen     uint64
	current      *channel.Channel
	watchers     map[int]chan State
	nextWatcher  int
}

// New validates cfg and starts the event loop. Call Start to load identity and sidebar.
func New(cfg Config) (*Session, error) {
	if cfg.Backend == nil || cfg.Dialer == nil {
		return nil, ErrMissingBackend
	}
	if _, err := channel.Address(cfg.ChannelBaseURL, 1, "probe"); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		backend:  cfg.Backend,
		dialer:   cfg.Dialer,
		wsBase:   cfg.ChannelBaseURL,
		buffer:   cfg.ChannelBuffer,
		identity: identity.NewResolver(cfg.Backend),
		sidebar:  sidebar.NewResolver(cfg.Backend, cfg.Backend),
		gateway:  gateway.New(cfg.Backend, cfg.Backend, cfg.HistoryPageSize),
		transfer: attachment.New(cfg.Backend, cfg.AttachmentMaxBytes),
		viewer:   availability.NewViewer(cfg.Backend),
		feed:     badge.NewFeed(cfg.Backend, cfg.BadgeLimit),
		ops:      make(chan func()),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		watchers: make(map[int]chan State),
		state:    State{Channel: channel.StateIdle},
	}

	go s.run()
	return s, nil
}

// run is the only goroutine that touches loop-owned fields
// ARCHITECTURAL DISCOVERY: Single goroutine coordination prevents race conditions
func (s *Session) run() {
	defer close(s.done)

	for {
		var events <-chan channel.Event
		if s.current != nil {
			events = s.current.Events()
		}

		select {
		case op := <-s.ops:
			op()
			if s.closed {
				return
			}
		case ev := <-events:
			s.handleEvent(ev)
		}
	}
}

// exec runs fn on the loop and waits for it to finish
func (s *Session) exec(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}

	select {
	case s.ops <- op:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	<-finished
	return nil
}

func (s *Session) handleEvent(ev channel.Event) {
	if s.current == nil || ev.ConversationID != s.current.ConversationID() {
		return
	}

	switch ev.Type {
	case channel.EventOpen:
		s.state.Channel = channel.StateOpen
		s.state.Live = true
	case channel.EventMessage:
		s.state.Messages = reconciler.Merge(s.state.Messages, *ev.Message)
	case channel.EventClosed:
		s.state.Channel = channel.StateClosed
		s.state.Live = false
		if ev.Err != nil {
			log.Printf("Live channel for conversation %d closed: %v", ev.ConversationID, ev.Err)
		}
		if errors.Is(ev.Err, interfaces.ErrUnauthorized) {
			s.setError(ev.Err)
		}
	}
	s.publish()
}

// Start resolves the identity and the sidebar. It may be retried after a failure.
func (s *Session) Start(ctx context.Context) error {
	var err error
	if execErr := s.exec(ctx, func() {
		if s.started {
			err = ErrAlreadyStarted
			return
		}
		s.started = true
		s.state.Loading = true
		s.publish()
	}); execErr != nil {
		return execErr
	}
	if err != nil {
		return err
	}

	id, err := s.identity.Resolve(ctx)
	var items []types.SidebarItem
	if err == nil {
		items, err = s.sidebar.Resolve(ctx, id)
	}

	if execErr := s.exec(context.Background(), func() {
		s.state.Loading = false
		if id.UserID == 0 {
			// Identity never resolved; allow another Start
			s.started = false
		} else {
			s.state.Identity = &id
		}
		if err == nil {
			s.state.Sidebar = items
		}
		s.setError(err)
		s.publish()
	}); execErr != nil {
		return execErr
	}
	return err
}

// Refresh re-resolves the sidebar and reloads the selected conversation's
// history. A newer Refresh supersedes an older one. History loaded for a
// selection that changed meanwhile is dropped.
func (s *Session) Refresh(ctx context.Context) error {
	var (
		id             types.Identity
		gen            uint64
		selGen         uint64
		conversationID int64
		err            error
	)
	if execErr := s.exec(ctx, func() {
		if s.state.Identity == nil {
			err = ErrNotStarted
			return
		}
		id = *s.state.Identity
		s.sidebarGen++
		gen = s.sidebarGen
		selGen = s.selectionGen
		if s.state.Selection != nil {
			conversationID = s.state.Selection.Conversation.ID
		}
		s.state.Refreshing = true
		s.publish()
	}); execErr != nil {
		return execErr
	}
	if err != nil {
		return err
	}

	items, err := s.sidebar.Resolve(ctx, id)

	var (
		history    []types.Message
		historyErr error
	)
	if conversationID != 0 {
		history, historyErr = s.gateway.LoadHistory(ctx, conversationID)
	}

	var stale bool
	if execErr := s.exec(context.Background(), func() {
		if gen != s.sidebarGen {
			stale = true
			return
		}
		s.state.Refreshing = false
		if err == nil {
			s.state.Sidebar = items
		}
		selected := s.state.Selection != nil && s.state.Selection.Conversation.ID == conversationID
		if conversationID != 0 && historyErr == nil && selGen == s.selectionGen && selected {
			// Frames that arrived during the load are kept
			s.state.Messages = reconciler.MergeAll(history, s.state.Messages)
		}
		if err == nil {
			err = historyErr
		}
		s.setError(err)
		s.publish()
	}); execErr != nil {
		return execErr
	}
	if stale {
		return ErrSuperseded
	}
	return err
}

// SelectTutor opens (or creates) the student's conversation with a matched tutor
func (s *Session) SelectTutor(ctx context.Context, tutorID int64) error {
	return s.selectWhere(ctx, func(item types.SidebarItem) bool {
		m, ok := item.(types.Match)
		return ok && m.TutorID == tutorID
	})
}

// SelectConversation opens one of the tutor's existing conversations
func (s *Session) SelectConversation(ctx context.Context, conversationID int64) error {
	return s.selectWhere(ctx, func(item types.SidebarItem) bool {
		ref, ok := item.(types.ConversationRef)
		return ok && ref.ConversationID == conversationID
	})
}

// Select picks a sidebar item by its Key
func (s *Session) Select(ctx context.Context, key string) error {
	return s.selectWhere(ctx, func(item types.SidebarItem) bool {
		return item.Key() == key
	})
}

// selectWhere resolves the conversation and its history off the loop, then
// commits only if no newer selection started meanwhile. The previous selection
// and its channel survive a failed or superseded attempt.
func (s *Session) selectWhere(ctx context.Context, match func(types.SidebarItem) bool) error {
	var (
		item types.SidebarItem
		self int64
		gen  uint64
		err  error
	)
	if execErr := s.exec(ctx, func() {
		if s.state.Identity == nil {
			err = ErrNotStarted
			return
		}
		for _, candidate := range s.state.Sidebar {
			if match(candidate) {
				item = candidate
				break
			}
		}
		if item == nil {
			err = ErrUnknownCounterpart
			return
		}
		self = s.state.Identity.UserID
		s.selectionGen++
		gen = s.selectionGen
		s.state.Loading = true
		s.publish()
	}); execErr != nil {
		return execErr
	}
	if err != nil {
		return err
	}

	conversation, err := s.resolveConversation(ctx, item, self)
	var history []types.Message
	if err == nil {
		history, err = s.gateway.LoadHistory(ctx, conversation.ID)
	}

	var stale bool
	if execErr := s.exec(context.Background(), func() {
		if gen != s.selectionGen {
			stale = true
			return
		}
		s.state.Loading = false
		if err != nil {
			s.setError(err)
			s.publish()
			return
		}

		s.closeChannel()
		s.state.Selection = &Selection{
			Key:           item.Key(),
			Title:         item.Title(),
			CounterpartID: item.CounterpartID(),
			Conversation:  *conversation,
		}
		s.state.Messages = history
		// Availability belongs to the abandoned selection
		s.availGen++
		s.state.AvailabilityFor = 0
		s.state.Availability = nil
		s.setError(nil)
		s.openChannel(conversation.ID)
		s.publish()
	}); execErr != nil {
		return execErr
	}
	if stale {
		return ErrSuperseded
	}
	return err
}

func (s *Session) resolveConversation(ctx context.Context, item types.SidebarItem, self int64) (*types.Conversation, error) {
	if ref, ok := item.(types.ConversationRef); ok {
		conversation := types.Conversation{ID: ref.ConversationID, User1ID: ref.User1ID, User2ID: ref.User2ID}
		if conversation.User1ID == 0 && conversation.User2ID == 0 {
			conversation.User1ID, conversation.User2ID = min(self, ref.OtherUserID), max(self, ref.OtherUserID)
		}
		return &conversation, nil
	}
	return s.gateway.Open(ctx, item.CounterpartID())
}

// closeChannel tears the current channel down synchronously (loop only)
func (s *Session) closeChannel() {
	if s.current == nil {
		return
	}
	if err := s.current.Close(); err != nil {
		log.Printf("Closing live channel for conversation %d: %v", s.current.ConversationID(), err)
	}
	s.current = nil
	s.state.Channel = channel.StateClosed
	s.state.Live = false
}

// openChannel binds a new channel to conversationID (loop only)
func (s *Session) openChannel(conversationID int64) {
	ch, err := channel.New(s.dialer, s.wsBase, conversationID, s.backend.Token(), s.buffer)
	if err != nil {
		s.setError(err)
		return
	}
	s.current = ch

	if err := ch.Start(s.ctx); err != nil {
		if errors.Is(err, channel.ErrNoCredential) {
			log.Printf("Live channel for conversation %d not started: no credential", conversationID)
		} else {
			s.setError(err)
		}
	}
	s.state.Channel = ch.State()
	s.state.Live = false
}

// Send delivers content over the live channel when it is open and falls back
// to the REST endpoint otherwise. Nothing is inserted locally until the server
// returns or echoes the message.
func (s *Session) Send(ctx context.Context, content string) error {
	trimmed, err := types.ValidateContent(content)
	if err != nil {
		return err
	}

	var (
		conversationID int64
		live           *channel.Channel
	)
	if execErr := s.exec(ctx, func() {
		if s.state.Selection == nil {
			err = ErrNoSelection
			return
		}
		if s.state.Sending {
			err = ErrSendInProgress
			return
		}
		s.state.Sending = true
		conversationID = s.state.Selection.Conversation.ID
		live = s.current
		s.publish()
	}); execErr != nil {
		return execErr
	}
	if err != nil {
		return err
	}

	var message *types.Message
	sentLive := false
	if live != nil && live.ConversationID() == conversationID {
		if sendErr := live.Send(trimmed); sendErr == nil {
			sentLive = true
		} else if !errors.Is(sendErr, channel.ErrNotOpen) {
			log.Printf("Live send failed, falling back to REST: %v", sendErr)
		}
	}
	if !sentLive {
		message, err = s.backend.SendMessage(ctx, conversationID, trimmed)
	}

	return s.finishSend(conversationID, message, err)
}

// Attach uploads a file with optional text to the selected conversation
func (s *Session) Attach(ctx context.Context, text string, file attachment.File) (*types.Message, error) {
	var (
		conversationID int64
		err            error
	)
	if execErr := s.exec(ctx, func() {
		if s.state.Selection == nil {
			err = ErrNoSelection
			return
		}
		if s.state.Sending {
			err = ErrSendInProgress
			return
		}
		s.state.Sending = true
		conversationID = s.state.Selection.Conversation.ID
		s.publish()
	}); execErr != nil {
		return nil, execErr
	}
	if err != nil {
		return nil, err
	}

	message, err := s.transfer.SendWithAttachment(ctx, conversationID, text, file)
	if finishErr := s.finishSend(conversationID, message, err); finishErr != nil {
		return nil, finishErr
	}
	return message, nil
}

// finishSend clears the sending flag and merges message if its conversation is still selected
func (s *Session) finishSend(conversationID int64, message *types.Message, err error) error {
	if execErr := s.exec(context.Background(), func() {
		s.state.Sending = false
		if err != nil {
			s.setError(err)
		} else if message != nil && s.state.Selection != nil && s.state.Selection.Conversation.ID == conversationID {
			s.state.Messages = reconciler.Merge(s.state.Messages, *message)
		}
		s.publish()
	}); execErr != nil {
		return execErr
	}
	return err
}

// DownloadURL returns an authenticated link for an attachment
func (s *Session) DownloadURL(attachmentID int64) (string, error) {
	return s.transfer.DownloadURL(attachmentID)
}

// ViewAvailability loads a student's weekly slots. Only tutors may call it.
func (s *Session) ViewAvailability(ctx context.Context, userID int64) ([]availability.DayGroup, error) {
	var (
		gen uint64
		err error
	)
	if execErr := s.exec(ctx, func() {
		if s.state.Identity == nil {
			err = ErrNotStarted
			return
		}
		if s.state.Identity.Role != types.RoleTutor {
			err = ErrNotTutor
			return
		}
		s.availGen++
		gen = s.availGen
	}); execErr != nil {
		return nil, execErr
	}
	if err != nil {
		return nil, err
	}

	groups, err := s.viewer.Load(ctx, userID)

	var stale bool
	if execErr := s.exec(context.Background(), func() {
		if gen != s.availGen {
			stale = true
			return
		}
		if err != nil {
			s.setError(err)
		} else {
			s.state.AvailabilityFor = userID
			s.state.Availability = groups
		}
		s.publish()
	}); execErr != nil {
		return nil, execErr
	}
	if stale {
		return nil, ErrSuperseded
	}
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// RefreshUnread recomputes the unread badge. Failures read as zero.
func (s *Session) RefreshUnread(ctx context.Context) (int, error) {
	count := s.feed.CountUnread(ctx)
	if err := s.exec(ctx, func() {
		s.state.Unread = count
		s.publish()
	}); err != nil {
		return 0, err
	}
	return count, nil
}

// SetCredential swaps the bearer token for later requests and channel opens.
// A channel left Idle for lack of a credential is started with the new one.
func (s *Session) SetCredential(ctx context.Context, token string) error {
	return s.exec(ctx, func() {
		s.backend.SetToken(token)
		if token != "" {
			s.state.Unauthorized = false
		}
		if s.current != nil && s.current.State() == channel.StateIdle && s.state.Selection != nil {
			s.closeChannel()
			s.openChannel(s.state.Selection.Conversation.ID)
		}
		s.publish()
	})
}

// Snapshot returns the current state
func (s *Session) Snapshot(ctx context.Context) (State, error) {
	var snap State
	if err := s.exec(ctx, func() { snap = s.state.clone() }); err != nil {
		return State{}, err
	}
	return snap, nil
}

// Watch delivers the latest state after every change. Slow observers see only
// the most recent snapshot. The returned func unsubscribes.
func (s *Session) Watch(ctx context.Context) (<-chan State, func(), error) {
	ch := make(chan State, 1)
	var id int
	if err := s.exec(ctx, func() {
		id = s.nextWatcher
		s.nextWatcher++
		s.watchers[id] = ch
		ch <- s.state.clone()
	}); err != nil {
		return nil, nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = s.exec(context.Background(), func() {
				if w, ok := s.watchers[id]; ok {
					delete(s.watchers, id)
					close(w)
				}
			})
		})
	}
	return ch, cancel, nil
}

// Close tears down the live channel and stops the loop. Watch channels are closed.
func (s *Session) Close() error {
	err := s.exec(context.Background(), func() {
		s.closeChannel()
		s.closed = true
		for id, w := range s.watchers {
			delete(s.watchers, id)
			close(w)
		}
	})
	s.closeOnce.Do(s.cancel)
	<-s.done
	return err
}

// Done is closed when the loop has stopped
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) setError(err error) {
	s.state.LastError = err
	if err != nil && errors.Is(err, interfaces.ErrUnauthorized) {
		s.state.Unauthorized = true
	}
}

// publish replaces each watcher's pending snapshot with the current one (loop only)
func (s *Session) publish() {
	if len(s.watchers) == 0 {
		return
	}
	snap := s.state.clone()
	for _, w := range s.watchers {
		select {
		case <-w:
		default:
		}
		w <- snap
	}
}

func (s State) String() string {
	sel := "none"
	if s.Selection != nil {
		sel = fmt.Sprintf("conversation %d with %s", s.Selection.Conversation.ID, s.Selection.Title)
	}
	return fmt.Sprintf("selection=%s messages=%d channel=%s", sel, len(s.Messages), s.Channel)
}
