package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/rtemka/lumina/domain"
)

const userColumns = `id, username, email, password_hash, avatar, avatar_key, created_at, updated_at`

// CreateUser сохраняет пользователя.
func (p *Postgres) CreateUser(ctx context.Context, u *domain.User) error {
	stmt := `INSERT INTO users(` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`
	return p.exec(ctx, stmt, u.ID, u.Username, u.Email, u.PasswordHash,
		u.Avatar, u.AvatarKey, u.CreatedAt, u.UpdatedAt)
}

// User находит пользователя по id.
func (p *Postgres) User(ctx context.Context, id string) (domain.User, error) {
	return p.userBy(ctx, "id", id)
}

// UserByEmail находит пользователя по email.
func (p *Postgres) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	return p.userBy(ctx, "email", email)
}

// UserByUsername находит пользователя по имени.
func (p *Postgres) UserByUsername(ctx context.Context, username string) (domain.User, error) {
	return p.userBy(ctx, "username", username)
}

func (p *Postgres) userBy(ctx context.Context, column, value string) (domain.User, error) {
	stmt := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1;`

	var u domain.User

	err := p.db.QueryRow(ctx, stmt, value).Scan(&u.ID, &u.Username, &u.Email,
		&u.PasswordHash, &u.Avatar, &u.AvatarKey, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, storeErr(err)
	}
	u.CreatedAt, u.UpdatedAt = utc(u.CreatedAt), utc(u.UpdatedAt)
	return u, nil
}

// UpdateUser обновляет имя и аватар пользователя.
func (p *Postgres) UpdateUser(ctx context.Context, u *domain.User) error {
	return p.tx(ctx, func(tx pgx.Tx) error {
		stmt := `
			UPDATE users SET username = $1, avatar = $2, avatar_key = $3, updated_at = $4
			WHERE id = $5;`
		tag, err := tx.Exec(ctx, stmt, u.Username, u.Avatar, u.AvatarKey, u.UpdatedAt, u.ID)
		if err != nil {
			return err
		}
		return affected(tag)
	})
}
