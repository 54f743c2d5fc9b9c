// Package database is the devserver's sqlite store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	dbconfig "tutorchat/pkg/database"
	"tutorchat/pkg/interfaces"
	"tutorchat/pkg/types"
)

// Manager implements the DatabaseManager interface
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	retryDelay   time.Duration
}

var _ interfaces.DatabaseManager = (*Manager)(nil)

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine. Call Migrate before use.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   250 * time.Millisecond,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Migrate applies the embedded schema and validates it
func (m *Manager) Migrate() error {
	migrations := dbconfig.NewMigrationManager(m.db, dbconfig.Migrations())
	if err := migrations.ApplyMigrations(); err != nil {
		return err
	}
	return migrations.ValidateSchema()
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			// Only lock contention is worth a second attempt
			if isBusy(err) {
				log.Printf("Database busy, retrying in %v: %v", m.retryDelay, err)
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// withTx runs fn in a transaction on the writer goroutine
func (m *Manager) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// User and credential operations

func (m *Manager) CreateUser(ctx context.Context, firstName, lastName string, isStudent bool) (*types.UserMe, error) {
	user := &types.UserMe{FirstName: firstName, LastName: lastName, IsStudent: isStudent}
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO users (first_name, last_name, is_student) VALUES (?, ?, ?)`,
			firstName, lastName, isStudent)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		user.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (m *Manager) GetUser(ctx context.Context, userID int64) (*types.UserMe, error) {
	var user types.UserMe
	err := m.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, is_student FROM users WHERE id = ?`, userID,
	).Scan(&user.ID, &user.FirstName, &user.LastName, &user.IsStudent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// IssueToken stores a random uuid as the user's bearer token
func (m *Manager) IssueToken(ctx context.Context, userID int64) (string, error) {
	token := uuid.NewString()
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `INSERT INTO tokens (token, user_id) VALUES (?, ?)`, token, userID)
		if isConstraint(err) {
			return fmt.Errorf("user %d: %w", userID, interfaces.ErrNotFound)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (m *Manager) UserByToken(ctx context.Context, token string) (*types.UserMe, error) {
	if token == "" {
		return nil, interfaces.ErrUnauthorized
	}

	var user types.UserMe
	err := m.db.QueryRowContext(ctx, `
		SELECT u.id, u.first_name, u.last_name, u.is_student
		FROM tokens t JOIN users u ON u.id = t.user_id
		WHERE t.token = ?`, token,
	).Scan(&user.ID, &user.FirstName, &user.LastName, &user.IsStudent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}
	return &user, nil
}

// Match operations

// SaveMatch inserts or rescores a student/tutor pair
func (m *Manager) SaveMatch(ctx context.Context, studentID, tutorID int64, score float64) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO matches (student_id, tutor_id, similarity_score) VALUES (?, ?, ?)
			ON CONFLICT (student_id, tutor_id) DO UPDATE SET similarity_score = excluded.similarity_score`,
			studentID, tutorID, score)
		if err != nil {
			return fmt.Errorf("failed to save match: %w", err)
		}
		return nil
	})
}

// ListMatches returns the student's tutors, best score first
func (m *Manager) ListMatches(ctx context.Context, studentID int64) ([]types.Match, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT m.tutor_id, u.first_name, u.last_name, m.similarity_score
		FROM matches m JOIN users u ON u.id = m.tutor_id
		WHERE m.student_id = ?
		ORDER BY m.similarity_score DESC, m.tutor_id ASC`, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	matches := []types.Match{}
	for rows.Next() {
		var match types.Match
		if err := rows.Scan(&match.TutorID, &match.TutorFirstName, &match.TutorLastName, &match.SimilarityScore); err != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", err)
		}
		matches = append(matches, match)
	}
	return matches, rows.Err()
}

// Conversation operations

// GetOrCreateConversation stores the pair as (min, max)
func (m *Manager) GetOrCreateConversation(ctx context.Context, userA, userB int64) (*types.Conversation, error) {
	if userA == userB {
		return nil, types.ErrSelfConversation
	}
	user1, user2 := min(userA, userB), max(userA, userB)

	var conversation *types.Conversation
	err := m.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id IN (?, ?)`, user1, user2).Scan(&count); err != nil {
			return fmt.Errorf("failed to check users: %w", err)
		}
		if count != 2 {
			return fmt.Errorf("conversation participant: %w", interfaces.ErrNotFound)
		}

		existing, err := scanConversation(tx.QueryRowContext(ctx, `
			SELECT id, user1_id, user2_id, created_at, updated_at
			FROM conversations WHERE user1_id = ? AND user2_id = ?`, user1, user2))
		if err == nil {
			conversation = existing
			return nil
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return err
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (user1_id, user2_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			user1, user2, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		conversation = &types.Conversation{ID: id, User1ID: user1, User2ID: user2, CreatedAt: now, UpdatedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conversation, nil
}

// GetConversation hides conversations the user is not part of
func (m *Manager) GetConversation(ctx context.Context, conversationID, userID int64) (*types.Conversation, error) {
	conversation, err := scanConversation(m.db.QueryRowContext(ctx, `
		SELECT id, user1_id, user2_id, created_at, updated_at
		FROM conversations WHERE id = ? AND (user1_id = ? OR user2_id = ?)`,
		conversationID, userID, userID))
	if err != nil {
		return nil, fmt.Errorf("conversation %d: %w", conversationID, err)
	}
	return conversation, nil
}

func scanConversation(row *sql.Row) (*types.Conversation, error) {
	var c types.Conversation
	err := row.Scan(&c.ID, &c.User1ID, &c.User2ID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	return &c, nil
}

// ListConversations returns refs with the counterpart's names and the latest message
func (m *Manager) ListConversations(ctx context.Context, userID int64) ([]types.ConversationRef, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT c.id, c.user1_id, c.user2_id, u.id, u.first_name, u.last_name,
		       lm.id, lm.sender_id, lm.content, lm.created_at
		FROM conversations c
		JOIN users u ON u.id = CASE WHEN c.user1_id = ? THEN c.user2_id ELSE c.user1_id END
		LEFT JOIN messages lm ON lm.id = (SELECT MAX(id) FROM messages WHERE conversation_id = c.id)
		WHERE c.user1_id = ? OR c.user2_id = ?
		ORDER BY c.updated_at DESC, c.id DESC`, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	refs := []types.ConversationRef{}
	for rows.Next() {
		var (
			ref                types.ConversationRef
			first, last        string
			lastID, lastSender sql.NullInt64
			lastContent        sql.NullString
			lastCreated        sql.NullTime
		)
		if err := rows.Scan(&ref.ConversationID, &ref.User1ID, &ref.User2ID, &ref.OtherUserID, &first, &last,
			&lastID, &lastSender, &lastContent, &lastCreated); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		ref.OtherFirstName = optionalName(first)
		ref.OtherLastName = optionalName(last)
		if lastID.Valid {
			ref.LastMessage = &types.Message{
				ID:             lastID.Int64,
				ConversationID: ref.ConversationID,
				SenderID:       lastSender.Int64,
				Content:        lastContent.String,
				CreatedAt:      lastCreated.Time,
			}
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func optionalName(name string) *string {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	return &name
}

// Message operations

// StoreMessage inserts the message, its attachment and bumps the conversation
// in one transaction. IDs and timestamps are written back into message.
func (m *Manager) StoreMessage(ctx context.Context, message *types.Message, storageKey string) error {
	if message.Attachment != nil && storageKey == "" {
		return ErrMissingStorageKey
	}

	now := time.Now().UTC()
	return m.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (conversation_id, sender_id, content, created_at) VALUES (?, ?, ?, ?)`,
			message.ConversationID, message.SenderID, message.Content, now)
		if err != nil {
			if isConstraint(err) {
				return fmt.Errorf("conversation %d: %w", message.ConversationID, interfaces.ErrNotFound)
			}
			return fmt.Errorf("failed to insert message: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		if a := message.Attachment; a != nil {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO attachments (message_id, file_name, mime_type, size_bytes, storage_key, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				id, a.FileName, a.MimeType, a.SizeBytes, storageKey, now)
			if err != nil {
				return fmt.Errorf("failed to insert attachment: %w", err)
			}
			attachmentID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			a.ID = attachmentID
			a.MessageID = id
			a.CreatedAt = now
		}

		if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, message.ConversationID); err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}

		message.ID = id
		message.CreatedAt = now
		return nil
	})
}

// ListMessages returns a page in ascending id order
func (m *Manager) ListMessages(ctx context.Context, conversationID int64, skip, limit int) ([]types.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.created_at,
		       a.id, a.file_name, a.mime_type, a.size_bytes, a.created_at
		FROM messages m LEFT JOIN attachments a ON a.message_id = m.id
		WHERE m.conversation_id = ?
		ORDER BY m.id ASC
		LIMIT ? OFFSET ?`, conversationID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []types.Message{}
	for rows.Next() {
		var (
			msg          types.Message
			attachmentID sql.NullInt64
			fileName     sql.NullString
			mimeType     sql.NullString
			sizeBytes    sql.NullInt64
			attachedAt   sql.NullTime
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.CreatedAt,
			&attachmentID, &fileName, &mimeType, &sizeBytes, &attachedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if attachmentID.Valid {
			msg.Attachment = &types.Attachment{
				ID:        attachmentID.Int64,
				MessageID: msg.ID,
				FileName:  fileName.String,
				MimeType:  mimeType.String,
				SizeBytes: sizeBytes.Int64,
				CreatedAt: attachedAt.Time,
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (m *Manager) GetAttachment(ctx context.Context, attachmentID int64) (*interfaces.StoredAttachment, error) {
	var stored interfaces.StoredAttachment
	err := m.db.QueryRowContext(ctx, `
		SELECT a.id, a.message_id, a.file_name, a.mime_type, a.size_bytes, a.created_at, a.storage_key, m.conversation_id
		FROM attachments a JOIN messages m ON m.id = a.message_id
		WHERE a.id = ?`, attachmentID,
	).Scan(&stored.ID, &stored.MessageID, &stored.FileName, &stored.MimeType, &stored.SizeBytes,
		&stored.CreatedAt, &stored.StorageKey, &stored.ConversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attachment %d: %w", attachmentID, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query attachment: %w", err)
	}
	return &stored, nil
}

// Availability and notifications

func (m *Manager) AddAvailability(ctx context.Context, slot *types.AvailabilitySlot) error {
	if err := slot.Validate(); err != nil {
		return err
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			INSERT INTO availability (user_id, day_of_week, start_time, end_time) VALUES (?, ?, ?, ?)`,
			slot.UserID, slot.DayOfWeek, slot.StartTime, slot.EndTime)
		if err != nil {
			return fmt.Errorf("failed to insert availability: %w", err)
		}
		slot.ID, err = res.LastInsertId()
		return err
	})
}

// ListAvailability orders by day then start time
func (m *Manager) ListAvailability(ctx context.Context, userID int64) ([]types.AvailabilitySlot, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, user_id, day_of_week, start_time, end_time
		FROM availability WHERE user_id = ?
		ORDER BY day_of_week ASC, start_time ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query availability: %w", err)
	}
	defer func() { _ = rows.Close() }()

	slots := []types.AvailabilitySlot{}
	for rows.Next() {
		var slot types.AvailabilitySlot
		if err := rows.Scan(&slot.ID, &slot.UserID, &slot.DayOfWeek, &slot.StartTime, &slot.EndTime); err != nil {
			return nil, fmt.Errorf("failed to scan availability row: %w", err)
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

func (m *Manager) AddNotification(ctx context.Context, n *types.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			INSERT INTO notifications (user_id, event_type, title, body, is_read, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			n.UserID, n.EventType, n.Title, n.Body, n.IsRead, n.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}
		n.ID, err = res.LastInsertId()
		return err
	})
}

// ListNotifications returns the newest limit rows
func (m *Manager) ListNotifications(ctx context.Context, userID int64, limit int) ([]types.Notification, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, title, body, is_read, created_at
		FROM notifications WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	notifications := []types.Notification{}
	for rows.Next() {
		var n types.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.EventType, &n.Title, &n.Body, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Graceful shutdown requires careful goroutine coordination
	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
