package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

const userColumns = `id, tenant_id, email, password_hash, first_name, last_name, role, active, created_at, updated_at`

// UserRepo handles CRUD for the users table.
type UserRepo struct {
	q querier
}

// NewUserRepo returns repository instance.
func NewUserRepo(q querier) *UserRepo {
	return &UserRepo{q: q}
}

// Create inserts a new user.
func (r *UserRepo) Create(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	const query = `
		INSERT INTO users (id, tenant_id, email, password_hash, first_name, last_name, role, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		user.ID, user.TenantID, user.Email, user.PasswordHash,
		user.FirstName, user.LastName, user.Role, user.Active).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	return mapWriteErr(err)
}

// GetByID fetches a user within the tenant.
func (r *UserRepo) GetByID(ctx context.Context, tenantID, id string) (*models.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE tenant_id = $1 AND id = $2
	`
	return scanUser(r.q.QueryRowContext(ctx, query, tenantID, id))
}

// GetByEmail fetches a user by email within the tenant.
func (r *UserRepo) GetByEmail(ctx context.Context, tenantID, email string) (*models.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE tenant_id = $1 AND lower(email) = lower($2)
	`
	return scanUser(r.q.QueryRowContext(ctx, query, tenantID, strings.TrimSpace(email)))
}

// FindByEmail lists accounts with this email across all tenants.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) ([]models.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE lower(email) = lower($1) AND active
		ORDER BY created_at
	`
	rows, err := r.q.QueryContext(ctx, query, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := scanUserFields(rows, &u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdatePassword replaces the stored password hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, tenantID, id, passwordHash string) error {
	const query = `
		UPDATE users
		SET password_hash = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`
	res, err := r.q.ExecContext(ctx, query, tenantID, id, passwordHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := scanUserFields(row, &u)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func scanUserFields(row rowScanner, u *models.User) error {
	return row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash,
		&u.FirstName, &u.LastName, &u.Role, &u.Active, &u.CreatedAt, &u.UpdatedAt)
}
