package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a migrated database against what the store expects
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = []string{
	"users",
	"tokens",
	"matches",
	"conversations",
	"messages",
	"attachments",
	"availability",
	"notifications",
	"schema_migrations",
}

var requiredIndexes = []string{
	"idx_tokens_user",
	"idx_conversations_user1",
	"idx_conversations_user2",
	"idx_messages_conversation",
	"idx_availability_user",
	"idx_notifications_user",
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies the message path columns and their types
func (v *SchemaValidator) ValidateTableStructure() error {
	checks := map[string]map[string]string{
		"conversations": {
			"id":         "INTEGER",
			"user1_id":   "INTEGER",
			"user2_id":   "INTEGER",
			"created_at": "DATETIME",
			"updated_at": "DATETIME",
		},
		"messages": {
			"id":              "INTEGER",
			"conversation_id": "INTEGER",
			"sender_id":       "INTEGER",
			"content":         "TEXT",
			"created_at":      "DATETIME",
		},
		"attachments": {
			"id":          "INTEGER",
			"message_id":  "INTEGER",
			"file_name":   "TEXT",
			"mime_type":   "TEXT",
			"size_bytes":  "INTEGER",
			"storage_key": "TEXT",
		},
	}

	for table, columns := range checks {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateConstraints verifies the pairing and foreign key rules inside a
// transaction that is always rolled back
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT INTO messages (conversation_id, sender_id, content, created_at)
		VALUES (-1, -1, 'probe', CURRENT_TIMESTAMP)`); err == nil {
		return fmt.Errorf("foreign key constraint not enforced: messages.conversation_id")
	}

	res, err := tx.Exec(`INSERT INTO users (first_name, is_student) VALUES ('probe', 1), ('probe', 0)`)
	if err != nil {
		return fmt.Errorf("failed to create probe users: %w", err)
	}
	last, err := res.LastInsertId()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`INSERT INTO conversations (user1_id, user2_id, created_at, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`, last, last-1); err == nil {
		return fmt.Errorf("check constraint not enforced: conversations.user1_id < user2_id")
	}

	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, dtype  string
			notNull, pk  int
			defaultValue interface{}
		)
		if err := rows.Scan(&cid, &name, &dtype, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dtype
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, want := range expected {
		got, ok := found[column]
		if !ok {
			return fmt.Errorf("column %s not found", column)
		}
		if got != want {
			return fmt.Errorf("column %s has type %s, expected %s", column, got, want)
		}
	}
	return nil
}
