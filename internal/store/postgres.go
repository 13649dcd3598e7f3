package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ErrDuplicate lets fake stores signal a unique-constraint hit without
// constructing a driver error.
var ErrDuplicate = errors.New("duplicate row")

// IsDuplicate reports whether err is a unique-constraint violation. The
// schema backstops the service's check-then-insert guards, so concurrent
// writers surface here instead of through the up-front checks.
func IsDuplicate(err error) bool {
	if errors.Is(err, ErrDuplicate) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const userColumns = `id, name, email, password_hash, location, availability, photo_url, is_public, is_banned, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Location,
		&user.Availability, &user.PhotoURL, &user.IsPublic, &user.IsBanned, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, location, availability, photo_url, is_public)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, $8)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Location, user.Availability, user.PhotoURL, user.IsPublic)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=LOWER($1)`, email)
	return scanUser(row)
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET name=$2, location=$3, availability=$4, photo_url=$5, is_public=$6, updated_at=NOW()
		WHERE id=$1
	`, user.ID, user.Name, user.Location, user.Availability, user.PhotoURL, user.IsPublic)
	if err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetUserBanned(ctx context.Context, userID string, banned bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_banned=$2, updated_at=NOW() WHERE id=$1 AND is_banned<>$2
	`, userID, banned)
	if err != nil {
		return false, fmt.Errorf("set user banned: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set user banned rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, search, status string, limit, offset int) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	conditions := []string{}
	args := []any{}

	if search != "" {
		args = append(args, "%"+search+"%")
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d)", len(args), len(args)))
	}
	switch status {
	case "banned":
		conditions = append(conditions, "is_banned")
	case "active":
		conditions = append(conditions, "NOT is_banned")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		item, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListPublicUsers(ctx context.Context, search, skill string, limit, offset int) ([]User, error) {
	query := `
		SELECT DISTINCT u.id, u.name, u.email, u.password_hash, u.location, u.availability,
			u.photo_url, u.is_public, u.is_banned, u.created_at, u.updated_at
		FROM users u
	`
	conditions := []string{"u.is_public", "NOT u.is_banned"}
	args := []any{}

	if skill != "" {
		query += `
		JOIN user_skills us ON us.user_id = u.id AND us.skill_type = 'offered'
		JOIN skills sk ON sk.id = us.skill_id
		`
		args = append(args, "%"+skill+"%")
		conditions = append(conditions, fmt.Sprintf("sk.name ILIKE $%d", len(args)))
	}
	if search != "" {
		args = append(args, "%"+search+"%")
		conditions = append(conditions, fmt.Sprintf("(u.name ILIKE $%d OR u.location ILIKE $%d)", len(args), len(args)))
	}
	query += " WHERE " + strings.Join(conditions, " AND ")
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY u.name ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("browse users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		item, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

// DeleteUserAccount removes the user and everything keyed to them in one
// transaction. Feedback written about the user by others goes too, so no
// dangling rated_user_id rows survive.
func (s *PostgresStore) DeleteUserAccount(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete account: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`DELETE FROM feedback WHERE rater_id=$1 OR rated_user_id=$1`,
		`DELETE FROM chat_messages WHERE swap_id IN (SELECT id FROM swaps WHERE requester_id=$1 OR receiver_id=$1)`,
		`DELETE FROM swaps WHERE requester_id=$1 OR receiver_id=$1`,
		`DELETE FROM user_skills WHERE user_id=$1`,
		`DELETE FROM password_resets WHERE user_id=$1`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, userID); err != nil {
			return fmt.Errorf("delete account data: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete account: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("insert password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) ConsumePasswordReset(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE password_resets
		SET used_at=NOW()
		WHERE token_hash=$1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING user_id
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) GetAdminByID(ctx context.Context, adminID string) (Admin, error) {
	var admin Admin
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, is_active, last_login_at, created_at
		FROM admins WHERE id=$1
	`, adminID).Scan(&admin.ID, &admin.Name, &admin.Email, &admin.PasswordHash, &admin.Role,
		&admin.IsActive, &admin.LastLoginAt, &admin.CreatedAt)
	if err != nil {
		return Admin{}, err
	}
	return admin, nil
}

func (s *PostgresStore) GetAdminByEmail(ctx context.Context, email string) (Admin, error) {
	var admin Admin
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, is_active, last_login_at, created_at
		FROM admins WHERE email=LOWER($1)
	`, email).Scan(&admin.ID, &admin.Name, &admin.Email, &admin.PasswordHash, &admin.Role,
		&admin.IsActive, &admin.LastLoginAt, &admin.CreatedAt)
	if err != nil {
		return Admin{}, err
	}
	return admin, nil
}

func (s *PostgresStore) CreateAdmin(ctx context.Context, admin Admin) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admins (id, name, email, password_hash, role)
		VALUES ($1, $2, LOWER($3), $4, $5)
		ON CONFLICT (email) DO NOTHING
	`, admin.ID, admin.Name, admin.Email, admin.PasswordHash, admin.Role)
	if err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountAdmins(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) TouchAdminLogin(ctx context.Context, adminID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE admins SET last_login_at=NOW() WHERE id=$1`, adminID)
	if err != nil {
		return fmt.Errorf("touch admin login: %w", err)
	}
	return nil
}

// EnsureSkillByName finds a skill by case-insensitive name or inserts it
// under newID. New skills start unapproved until an admin reviews them.
func (s *PostgresStore) EnsureSkillByName(ctx context.Context, newID, name, category string) (Skill, error) {
	const findSkill = `SELECT id, name, description, category, is_approved, created_at, updated_at FROM skills WHERE LOWER(name)=LOWER($1)`
	var skill Skill
	err := s.db.QueryRowContext(ctx, findSkill, name).Scan(&skill.ID, &skill.Name, &skill.Description,
		&skill.Category, &skill.IsApproved, &skill.CreatedAt, &skill.UpdatedAt)
	if err == nil {
		return skill, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Skill{}, fmt.Errorf("lookup skill: %w", err)
	}

	insertSkill := `
		INSERT INTO skills (id, name, category)
		VALUES ($1, $2, $3)
		RETURNING id, name, description, category, is_approved, created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, insertSkill, newID, name, category).Scan(&skill.ID, &skill.Name,
		&skill.Description, &skill.Category, &skill.IsApproved, &skill.CreatedAt, &skill.UpdatedAt)
	if IsDuplicate(err) {
		// Another request created the skill between find and insert.
		err = s.db.QueryRowContext(ctx, findSkill, name).Scan(&skill.ID, &skill.Name, &skill.Description,
			&skill.Category, &skill.IsApproved, &skill.CreatedAt, &skill.UpdatedAt)
	}
	if err != nil {
		return Skill{}, fmt.Errorf("insert skill: %w", err)
	}
	return skill, nil
}

func (s *PostgresStore) ListSkills(ctx context.Context, search, status string, limit, offset int) ([]Skill, error) {
	query := `SELECT id, name, description, category, is_approved, created_at, updated_at FROM skills`
	conditions := []string{}
	args := []any{}

	if search != "" {
		args = append(args, "%"+search+"%")
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR category ILIKE $%d)", len(args), len(args)))
	}
	switch status {
	case "approved":
		conditions = append(conditions, "is_approved")
	case "pending":
		conditions = append(conditions, "NOT is_approved")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY name ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	items := make([]Skill, 0)
	for rows.Next() {
		var item Skill
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.Category, &item.IsApproved, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skills: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetSkillApproved(ctx context.Context, skillID string, approved bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE skills SET is_approved=$2, updated_at=NOW() WHERE id=$1 AND is_approved<>$2
	`, skillID, approved)
	if err != nil {
		return false, fmt.Errorf("set skill approved: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set skill approved rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) AddUserSkill(ctx context.Context, entry UserSkill) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_skills (id, user_id, skill_id, skill_type, description, proficiency)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.UserID, entry.SkillID, entry.SkillType, entry.Description, entry.Proficiency)
	if err != nil {
		return fmt.Errorf("insert user skill: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasUserSkill(ctx context.Context, userID, skillID, skillType string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM user_skills WHERE user_id=$1 AND skill_id=$2 AND skill_type=$3)
	`, userID, skillID, skillType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user skill: %w", err)
	}
	return exists, nil
}

// HasOfferedSkill matches by skill name, the identity swaps are made in.
// The comparison is exact; the catalog owns name canonicalization.
func (s *PostgresStore) HasOfferedSkill(ctx context.Context, userID, skillName string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM user_skills us
			JOIN skills sk ON sk.id = us.skill_id
			WHERE us.user_id=$1 AND us.skill_type='offered' AND sk.name=$2
		)
	`, userID, skillName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check offered skill: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) RemoveUserSkill(ctx context.Context, userID, userSkillID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM user_skills WHERE id=$1 AND user_id=$2
	`, userSkillID, userID)
	if err != nil {
		return false, fmt.Errorf("remove user skill: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove user skill rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListUserSkills(ctx context.Context, userID, skillType string) ([]UserSkill, error) {
	query := `
		SELECT us.id, us.user_id, us.skill_id, sk.name, us.skill_type, us.description, us.proficiency, us.created_at
		FROM user_skills us
		JOIN skills sk ON sk.id = us.skill_id
		WHERE us.user_id=$1
	`
	args := []any{userID}
	if skillType != "" {
		args = append(args, skillType)
		query += fmt.Sprintf(" AND us.skill_type=$%d", len(args))
	}
	query += " ORDER BY sk.name ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list user skills: %w", err)
	}
	defer rows.Close()

	items := make([]UserSkill, 0)
	for rows.Next() {
		var item UserSkill
		if err := rows.Scan(&item.ID, &item.UserID, &item.SkillID, &item.SkillName, &item.SkillType, &item.Description, &item.Proficiency, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user skill: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user skills: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
