// ABOUTME: Chat and message store methods
// ABOUTME: Messages are append-only; the only deletes are by chat or by timestamp suffix

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateChat inserts a new chat
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *Chat) error {
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, user_id, title, model_config_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, chat.ID, chat.UserID, chat.Title, nullString(chat.ModelConfigID), formatTime(chat.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting chat: %w", err)
	}

	s.logger.Debug("created chat", "id", chat.ID, "user_id", chat.UserID)
	return nil
}

// GetChat retrieves a chat by ID
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, model_config_id, created_at FROM chats WHERE id = ?
	`, id)
	return scanChat(row)
}

// ListChatsByUser returns a user's chats, newest first
func (s *SQLiteStore) ListChatsByUser(ctx context.Context, userID string) ([]*Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, model_config_id, created_at
		FROM chats
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying chats: %w", err)
	}
	defer rows.Close()

	chats := []*Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat rows: %w", err)
	}
	return chats, nil
}

func scanChat(row rowScanner) (*Chat, error) {
	var c Chat
	var modelConfigID sql.NullString
	var createdAtStr string

	err := row.Scan(&c.ID, &c.UserID, &c.Title, &modelConfigID, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chat: %w", err)
	}

	c.ModelConfigID = modelConfigID.String
	c.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &c, nil
}

// DeleteChat removes a chat and all of its messages
func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) error {
	err := s.execOne(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("deleting chat: %w", err)
	}
	return err
}

// SaveMessages inserts a batch of turns in one transaction.
// Either every message is stored or none is.
func (s *SQLiteStore) SaveMessages(ctx context.Context, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		content := msg.Content
		if len(content) == 0 {
			content = []byte("[]")
		}

		_, err := stmt.ExecContext(ctx,
			msg.ID,
			msg.ChatID,
			msg.Role,
			string(content),
			msg.CreatedAt.UTC().Format(messageTimeLayout),
		)
		if err != nil {
			if isConstraintViolation(err) {
				return ErrDuplicate
			}
			if isForeignKeyViolation(err) {
				return ErrNotFound
			}
			return fmt.Errorf("inserting message %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing messages: %w", err)
	}

	s.logger.Debug("saved messages", "chat_id", messages[0].ChatID, "count", len(messages))
	return nil
}

// GetMessagesByChatID returns a chat's turns in the order they were recorded
func (s *SQLiteStore) GetMessagesByChatID(ctx context.Context, chatID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		var msg Message
		var content, createdAtStr string
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &content, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.Content = []byte(content)
		msg.CreatedAt, err = time.Parse(messageTimeLayout, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// DeleteMessagesAfter removes every turn of the chat created at or after ts.
// Used to regenerate a response or edit an earlier user message.
func (s *SQLiteStore) DeleteMessagesAfter(ctx context.Context, chatID string, ts time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE chat_id = ? AND created_at >= ?
	`, chatID, ts.UTC().Format(messageTimeLayout))
	if err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}

	n, _ := result.RowsAffected()
	s.logger.Debug("deleted messages", "chat_id", chatID, "after", ts, "count", n)
	return nil
}
