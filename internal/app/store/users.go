package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"vchat/internal/app/chat"
	"vchat/internal/app/user"
	"vchat/internal/pkg/randx"
)

// UserAccount is a user row including the credential hash. It never leaves
// the handler layer; API responses carry only the embedded User.
type UserAccount struct {
	User         user.User
	PasswordHash string
}

// CreateUser inserts a new user with a generated id and returns it.
func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash, name string) (*user.User, error) {
	id := randx.NewID()

	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, email, password_hash, name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, username, name, avatar_url, is_online, last_seen`,
		id, username, email, passwordHash, name)

	u, err := scanUser(row)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUserByUsername loads a user account, credential hash included.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*UserAccount, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, name, avatar_url, is_online, last_seen, password_hash
		FROM users
		WHERE username = $1`,
		username)

	var account UserAccount
	err := row.Scan(
		&account.User.ID,
		&account.User.Username,
		&account.User.Name,
		&account.User.AvatarURL,
		&account.User.IsOnline,
		&account.User.LastSeen,
		&account.PasswordHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user by username: %w", err)
	}
	return &account, nil
}

// GetUserByID loads a user's public profile.
func (s *Store) GetUserByID(ctx context.Context, userID string) (*user.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, name, avatar_url, is_online, last_seen
		FROM users
		WHERE id = $1`,
		userID)

	return scanUser(row)
}

// SearchUsers finds users whose username or display name matches the query,
// excluding the searcher themselves.
func (s *Store) SearchUsers(ctx context.Context, query, selfID string, limit int) ([]user.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, name, avatar_url, is_online, last_seen
		FROM users
		WHERE (username ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%')
		  AND id <> $2
		ORDER BY username
		LIMIT $3`,
		query, selfID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

// UsersByIDs loads the public profiles for a set of user ids.
func (s *Store) UsersByIDs(ctx context.Context, ids []string) ([]user.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, username, name, avatar_url, is_online, last_seen
		FROM users
		WHERE id = ANY($1)`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query users by ids: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

// UpdateUserProfile applies a partial profile update. Nil fields are left
// unchanged.
func (s *Store) UpdateUserProfile(ctx context.Context, userID string, name, avatarURL *string) (*user.User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users
		SET name       = COALESCE($2, name),
		    avatar_url = COALESCE($3, avatar_url),
		    updated_at = now()
		WHERE id = $1
		RETURNING id, username, name, avatar_url, is_online, last_seen`,
		userID, name, avatarURL)

	return scanUser(row)
}

// SetUserOnline flips the persisted online flag.
func (s *Store) SetUserOnline(ctx context.Context, userID string, online bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET is_online = $2, updated_at = now()
		WHERE id = $1`,
		userID, online)
	if err != nil {
		return fmt.Errorf("failed to update online flag: %w", err)
	}
	return nil
}

// SetUserLastSeen records the last-seen timestamp.
func (s *Store) SetUserLastSeen(ctx context.Context, userID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET last_seen = $2, updated_at = now()
		WHERE id = $1`,
		userID, at)
	if err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.Username, &u.Name, &u.AvatarURL, &u.IsOnline, &u.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

func collectUsers(rows pgx.Rows) ([]user.User, error) {
	var users []user.User
	for rows.Next() {
		var u user.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &u.AvatarURL, &u.IsOnline, &u.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user rows: %w", err)
	}
	return users, nil
}
