// ABOUTME: User, group and membership store methods
// ABOUTME: Memberships are the edges the access resolver walks to find grants

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateUser inserts a new user. Returns ErrDuplicate if the email is taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (id, email, name, is_admin, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		boolToInt(user.IsAdmin),
		nullString(user.PasswordHash),
		formatTime(user.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "admin", user.IsAdmin)
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, email, name, is_admin, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByEmail retrieves a user by email address.
// Returns ErrNotFound if no user has that email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, email, name, is_admin, password_hash, created_at
		FROM users
		WHERE email = ?
	`
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var isAdmin int
	var passwordHash sql.NullString
	var createdAtStr string

	err := row.Scan(&user.ID, &user.Email, &user.Name, &isAdmin, &passwordHash, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.IsAdmin = isAdmin != 0
	user.PasswordHash = passwordHash.String
	user.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &user, nil
}

// ListUsers returns all users ordered by email
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, name, is_admin, password_hash, created_at
		FROM users
		ORDER BY email ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

// SetUserAdmin sets or clears the admin flag for a user
func (s *SQLiteStore) SetUserAdmin(ctx context.Context, id string, isAdmin bool) error {
	err := s.execOne(ctx, `UPDATE users SET is_admin = ? WHERE id = ?`, boolToInt(isAdmin), id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("updating user: %w", err)
	}
	return err
}

// DeleteUser removes a user and, by cascade, their memberships and chats
func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	err := s.execOne(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("deleting user: %w", err)
	}
	return err
}

// CreateGroup inserts a new group. Returns ErrDuplicate if the name is taken.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *Group) error {
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, name, description, created_at)
		VALUES (?, ?, ?, ?)
	`, group.ID, group.Name, group.Description, formatTime(group.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting group: %w", err)
	}

	s.logger.Debug("created group", "id", group.ID, "name", group.Name)
	return nil
}

// GetGroup retrieves a group by ID
func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	var group Group
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at FROM groups WHERE id = ?
	`, id).Scan(&group.ID, &group.Name, &group.Description, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying group: %w", err)
	}

	group.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &group, nil
}

// ListGroups returns all groups ordered by name
func (s *SQLiteStore) ListGroups(ctx context.Context) ([]*Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at FROM groups ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		var group Group
		var createdAtStr string
		if err := rows.Scan(&group.ID, &group.Name, &group.Description, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning group row: %w", err)
		}
		group.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		groups = append(groups, &group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group rows: %w", err)
	}
	return groups, nil
}

// DeleteGroup removes a group along with its memberships and grant edges
func (s *SQLiteStore) DeleteGroup(ctx context.Context, id string) error {
	err := s.execOne(ctx, `DELETE FROM groups WHERE id = ?`, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("deleting group: %w", err)
	}
	return err
}

// AddMembership adds a user to a group. Re-adding an existing member updates the role.
// Returns ErrNotFound if either the user or the group does not exist.
func (s *SQLiteStore) AddMembership(ctx context.Context, userID, groupID string, role MembershipRole) error {
	if role == "" {
		role = MembershipRoleMember
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_groups (user_id, group_id, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, group_id) DO UPDATE SET role = excluded.role
	`, userID, groupID, string(role), formatTime(time.Now()))
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting membership: %w", err)
	}

	s.logger.Debug("added membership", "user_id", userID, "group_id", groupID, "role", role)
	return nil
}

// RemoveMembership removes a user from a group
func (s *SQLiteStore) RemoveMembership(ctx context.Context, userID, groupID string) error {
	err := s.execOne(ctx, `DELETE FROM user_groups WHERE user_id = ? AND group_id = ?`, userID, groupID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("deleting membership: %w", err)
	}
	return err
}

// ListUserGroupIDs returns the IDs of every group the user belongs to.
// An unknown user simply has no groups.
func (s *SQLiteStore) ListUserGroupIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id FROM user_groups WHERE user_id = ? ORDER BY group_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying memberships: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning membership row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating membership rows: %w", err)
	}
	return ids, nil
}
