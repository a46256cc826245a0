package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"vchat/internal/app/chat"
	"vchat/internal/app/user"
	"vchat/internal/pkg/randx"
)

// ChatDetail is a chat together with the data the list view renders:
// resolved member profiles and the last message, if any.
type ChatDetail struct {
	Chat        chat.Chat     `json:"chat"`
	Members     []user.User   `json:"members"`
	LastMessage *chat.Message `json:"lastMessage,omitempty"`
}

// CreateChatParams describes a new chat. Members must already include the
// creator and be deduplicated by the caller.
type CreateChatParams struct {
	IsGroup   bool
	Name      string
	AvatarURL string
	AdminID   string
	Members   []string
}

// CreateChat inserts a chat and its member rows in one transaction.
func (s *Store) CreateChat(ctx context.Context, params CreateChatParams) (*chat.Chat, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	id := randx.NewID()

	var adminID *string
	if params.IsGroup {
		adminID = &params.AdminID
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO chats (id, is_group, name, avatar_url, admin_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, is_group, name, avatar_url, admin_id, last_message_id, created_at, updated_at`,
		id, params.IsGroup, params.Name, params.AvatarURL, adminID)

	chatRec, err := scanChat(row)
	if err != nil {
		return nil, err
	}

	for i, memberID := range params.Members {
		_, err := tx.Exec(ctx, `
			INSERT INTO chat_members (chat_id, user_id, position)
			VALUES ($1, $2, $3)`,
			id, memberID, i)
		if err != nil {
			return nil, fmt.Errorf("failed to insert chat member: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit chat creation: %w", err)
	}

	chatRec.Members = append([]string(nil), params.Members...)
	return chatRec, nil
}

// FindChatByID loads a chat and its member ids.
func (s *Store) FindChatByID(ctx context.Context, chatID string) (*chat.Chat, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, is_group, name, avatar_url, admin_id, last_message_id, created_at, updated_at
		FROM chats
		WHERE id = $1`,
		chatID)

	chatRec, err := scanChat(row)
	if err != nil {
		return nil, err
	}

	members, err := s.chatMemberIDs(ctx, chatID)
	if err != nil {
		return nil, err
	}
	chatRec.Members = members

	return chatRec, nil
}

// ChatsForUser loads every chat the user belongs to, most recently active
// first, with member profiles and last messages resolved.
func (s *Store) ChatsForUser(ctx context.Context, userID string) ([]ChatDetail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.is_group, c.name, c.avatar_url, c.admin_id, c.last_message_id, c.created_at, c.updated_at
		FROM chats c
		JOIN chat_members m ON m.chat_id = c.id
		WHERE m.user_id = $1
		ORDER BY c.updated_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats for user: %w", err)
	}
	defer rows.Close()

	var chats []*chat.Chat
	for rows.Next() {
		chatRec, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chatRec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat rows: %w", err)
	}

	details := make([]ChatDetail, 0, len(chats))
	for _, chatRec := range chats {
		detail, err := s.chatDetail(ctx, chatRec)
		if err != nil {
			return nil, err
		}
		details = append(details, *detail)
	}
	return details, nil
}

// ChatDetailByID resolves one chat into its list-view form.
func (s *Store) ChatDetailByID(ctx context.Context, chatID string) (*ChatDetail, error) {
	chatRec, err := s.FindChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return s.chatDetail(ctx, chatRec)
}

// UpdateChatDetails applies a partial update to a group's name and avatar.
// Nil fields are left unchanged.
func (s *Store) UpdateChatDetails(ctx context.Context, chatID string, name, avatarURL *string) (*chat.Chat, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE chats
		SET name       = COALESCE($2, name),
		    avatar_url = COALESCE($3, avatar_url),
		    updated_at = now()
		WHERE id = $1
		RETURNING id, is_group, name, avatar_url, admin_id, last_message_id, created_at, updated_at`,
		chatID, name, avatarURL)

	chatRec, err := scanChat(row)
	if err != nil {
		return nil, err
	}

	members, err := s.chatMemberIDs(ctx, chatID)
	if err != nil {
		return nil, err
	}
	chatRec.Members = members

	return chatRec, nil
}

// AddChatMembers appends new members to a chat, skipping ids that are
// already members.
func (s *Store) AddChatMembers(ctx context.Context, chatID string, userIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var next int
	row := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(position), -1) + 1
		FROM chat_members
		WHERE chat_id = $1`,
		chatID)
	if err := row.Scan(&next); err != nil {
		return fmt.Errorf("failed to query member position: %w", err)
	}

	for _, userID := range userIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO chat_members (chat_id, user_id, position)
			VALUES ($1, $2, $3)
			ON CONFLICT (chat_id, user_id) DO NOTHING`,
			chatID, userID, next)
		if err != nil {
			return fmt.Errorf("failed to insert chat member: %w", err)
		}
		next++
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit member addition: %w", err)
	}
	return nil
}

// RemoveChatMember removes one member from a chat.
func (s *Store) RemoveChatMember(ctx context.Context, chatID, userID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM chat_members
		WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove chat member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (s *Store) chatDetail(ctx context.Context, chatRec *chat.Chat) (*ChatDetail, error) {
	members, err := s.UsersByIDs(ctx, chatRec.Members)
	if err != nil {
		return nil, err
	}

	detail := &ChatDetail{
		Chat:    *chatRec,
		Members: members,
	}

	if chatRec.LastMessageID != "" {
		msg, err := s.FindMessageByID(ctx, chatRec.LastMessageID)
		if err != nil && !errors.Is(err, chat.ErrNotFound) {
			return nil, err
		}
		detail.LastMessage = msg
	}

	return detail, nil
}

func (s *Store) chatMemberIDs(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id
		FROM chat_members
		WHERE chat_id = $1
		ORDER BY position`,
		chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate member rows: %w", err)
	}
	return members, nil
}

func scanChat(row pgx.Row) (*chat.Chat, error) {
	var (
		c             chat.Chat
		adminID       *string
		lastMessageID *string
	)
	err := row.Scan(&c.ID, &c.IsGroup, &c.Name, &c.AvatarURL, &adminID, &lastMessageID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan chat: %w", err)
	}
	if adminID != nil {
		c.AdminID = *adminID
	}
	if lastMessageID != nil {
		c.LastMessageID = *lastMessageID
	}
	return &c, nil
}
