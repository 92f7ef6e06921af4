package postgres

import (
	"context"
	"errors"

	"fieldops/internal/models"
	"fieldops/internal/store"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

const userColumns = `user_id, name, email, phone, role_name, created_at`

func (s *Store) Login(ctx context.Context, email, password string) (models.User, error) {
	var user models.User
	var passwordHash string
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`, password_hash
		FROM users
		WHERE lower(email) = lower($1) AND active = TRUE
	`, email)
	if err := row.Scan(&user.UserID, &user.Name, &user.Email, &user.Phone, &user.RoleName, &user.CreatedAt, &passwordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrInvalidCredentials
		}
		return models.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return models.User{}, store.ErrInvalidCredentials
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

// CreateUser hashes password with bcrypt before storing it.
func (s *Store) CreateUser(ctx context.Context, user models.User, password string) (models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}
	role := user.RoleName
	if role == "" {
		role = "technician"
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (user_id, name, email, phone, role_name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		user.UserID, user.Name, user.Email, user.Phone, role, string(hash), s.now())
	created, err := scanUser(row)
	if err != nil {
		if isConstraintViolation(err, uniqueViolation, "users_email_idx") {
			return models.User{}, store.ErrDuplicateEmail
		}
		return models.User{}, err
	}
	return created, nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.UserID, &u.Name, &u.Email, &u.Phone, &u.RoleName, &u.CreatedAt)
	return u, err
}
