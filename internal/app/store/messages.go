package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"vchat/internal/app/chat"
	"vchat/internal/pkg/randx"
)

// CreateMessage persists a message, its initial per-recipient statuses, and
// the chat's last-message pointer in one transaction.
func (s *Store) CreateMessage(ctx context.Context, chatID, senderID, content string, media []chat.Media, status map[string]chat.Status) (*chat.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	id := randx.NewID()
	if media == nil {
		media = []chat.Media{}
	}

	var createdAt time.Time
	row := tx.QueryRow(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, media)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		id, chatID, senderID, content, media)
	if err := row.Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	for recipientID, st := range status {
		_, err := tx.Exec(ctx, `
			INSERT INTO message_status (message_id, recipient_id, status)
			VALUES ($1, $2, $3)`,
			id, recipientID, string(st))
		if err != nil {
			return nil, fmt.Errorf("failed to insert message status: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE chats
		SET last_message_id = $2, updated_at = now()
		WHERE id = $1`,
		chatID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update last message pointer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit message creation: %w", err)
	}

	statusCopy := make(map[string]chat.Status, len(status))
	for k, v := range status {
		statusCopy[k] = v
	}

	return &chat.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Media:     media,
		Status:    statusCopy,
		CreatedAt: createdAt,
	}, nil
}

// FindMessageByID loads a message with its per-recipient status map.
func (s *Store) FindMessageByID(ctx context.Context, messageID string) (*chat.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, chat_id, sender_id, content, media, created_at
		FROM messages
		WHERE id = $1`,
		messageID)

	msg, err := scanMessage(row)
	if err != nil {
		return nil, err
	}

	statuses, err := s.messageStatuses(ctx, []string{messageID})
	if err != nil {
		return nil, err
	}
	msg.Status = statuses[messageID]

	return msg, nil
}

// UpdateMessageStatus advances one recipient's status on a message. The
// update is monotonic at the database level, so a duplicated or reordered
// write can never regress a recipient who already reached a later state.
func (s *Store) UpdateMessageStatus(ctx context.Context, messageID, recipientID string, status chat.Status) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE message_status
		SET status = $3, updated_at = now()
		WHERE message_id = $1
		  AND recipient_id = $2
		  AND CASE status WHEN 'sent' THEN 0 WHEN 'delivered' THEN 1 ELSE 2 END
		    < CASE $3::text WHEN 'sent' THEN 0 WHEN 'delivered' THEN 1 ELSE 2 END`,
		messageID, recipientID, string(status))
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return nil
}

// MessagesForChat returns up to limit messages of a chat in ascending
// creation order. A non-nil before cursor restricts the page to messages
// created strictly earlier, for backwards pagination.
func (s *Store) MessagesForChat(ctx context.Context, chatID string, limit int, before *time.Time) ([]chat.Message, error) {
	cutoff := time.Now().Add(time.Hour)
	if before != nil {
		cutoff = *before
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, sender_id, content, media, created_at
		FROM messages
		WHERE chat_id = $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3`,
		chatID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var (
		messages []chat.Message
		ids      []string
	)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
		ids = append(ids, msg.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}

	statuses, err := s.messageStatuses(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].Status = statuses[messages[i].ID]
	}

	// Oldest first for rendering.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (s *Store) messageStatuses(ctx context.Context, messageIDs []string) (map[string]map[string]chat.Status, error) {
	out := make(map[string]map[string]chat.Status, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT message_id, recipient_id, status
		FROM message_status
		WHERE message_id = ANY($1)`,
		messageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query message statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, recipientID, st string
		if err := rows.Scan(&messageID, &recipientID, &st); err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		if out[messageID] == nil {
			out[messageID] = make(map[string]chat.Status)
		}
		out[messageID][recipientID] = chat.Status(st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status rows: %w", err)
	}
	return out, nil
}

func scanMessage(row pgx.Row) (*chat.Message, error) {
	var msg chat.Message
	err := row.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.Media, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return &msg, nil
}
