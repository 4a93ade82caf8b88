package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/conduit-ai/conduit/pkg/types"
)

// ErrChatNotFound is returned when a chat id does not exist.
var ErrChatNotFound = errors.New("chat not found")

// UpsertChat inserts or updates a chat row. Messages are written separately
// via SaveMessages.
func (s *Store) UpsertChat(ctx context.Context, chat *types.Chat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, owner_id, title, default_model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			default_model = excluded.default_model,
			updated_at = excluded.updated_at`,
		chat.ID, chat.OwnerID, chat.Title, chat.DefaultModel, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	return nil
}

// SaveMessages replaces the message rows for a chat with the given snapshot.
// Transient loading messages are skipped; they are not durable state.
func (s *Store) SaveMessages(ctx context.Context, chatID string, messages []types.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
			return fmt.Errorf("clear messages: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO messages (id, chat_id, position, role, content, content_type, model,
				prompt_tokens, completion_tokens, total_tokens, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		position := 0
		for _, msg := range messages {
			if msg.Loading {
				continue
			}
			var prompt, completion, total sql.NullInt64
			if msg.Usage != nil {
				prompt = sql.NullInt64{Int64: int64(msg.Usage.PromptTokens), Valid: true}
				completion = sql.NullInt64{Int64: int64(msg.Usage.CompletionTokens), Valid: true}
				total = sql.NullInt64{Int64: int64(msg.Usage.TotalTokens), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				msg.ID, chatID, position, string(msg.Role), msg.Content, msg.ContentType,
				msg.Model, prompt, completion, total, msg.CreatedAt); err != nil {
				return fmt.Errorf("insert message %s: %w", msg.ID, err)
			}
			position++
		}
		return nil
	})
}

// GetChat loads a chat with its messages in chronological order.
func (s *Store) GetChat(ctx context.Context, id string) (*types.Chat, error) {
	chat := &types.Chat{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, default_model, created_at, updated_at
		FROM chats WHERE id = ?`, id).
		Scan(&chat.ID, &chat.OwnerID, &chat.Title, &chat.DefaultModel, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, content_type, model,
			prompt_tokens, completion_tokens, total_tokens, created_at
		FROM messages WHERE chat_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg types.Message
		var prompt, completion, total sql.NullInt64
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.ContentType, &msg.Model,
			&prompt, &completion, &total, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if total.Valid {
			msg.Usage = &types.Usage{
				PromptTokens:     int(prompt.Int64),
				CompletionTokens: int(completion.Int64),
				TotalTokens:      int(total.Int64),
			}
		}
		chat.Messages = append(chat.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return chat, nil
}

// DeleteChat removes a chat; messages cascade.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChatNotFound
	}
	return nil
}

// ListChatsByOwner returns an owner's chats, most recently updated first,
// without their message bodies.
func (s *Store) ListChatsByOwner(ctx context.Context, ownerID string) ([]types.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, default_model, created_at, updated_at
		FROM chats WHERE owner_id = ? ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []types.Chat
	for rows.Next() {
		var chat types.Chat
		if err := rows.Scan(&chat.ID, &chat.OwnerID, &chat.Title, &chat.DefaultModel,
			&chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}
