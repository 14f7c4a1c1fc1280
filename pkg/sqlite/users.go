package sqlite

import (
	"context"
	"database/sql"

	"github.com/rtemka/lumina/domain"
)

const userColumns = `id, username, email, password_hash, avatar, avatar_key, created_at, updated_at`

// CreateUser сохраняет пользователя.
func (l *SQLite) CreateUser(ctx context.Context, u *domain.User) error {
	return l.tx(ctx, func(tx *sql.Tx) error {
		stmt := `INSERT INTO users(` + userColumns + `)
			VALUES($1, $2, $3, $4, $5, $6, $7, $8);`
		_, err := tx.ExecContext(ctx, stmt, u.ID, u.Username, u.Email, u.PasswordHash,
			u.Avatar, u.AvatarKey, unix(u.CreatedAt), unix(u.UpdatedAt))
		return err
	})
}

// User возвращает пользователя по id.
func (l *SQLite) User(ctx context.Context, id string) (domain.User, error) {
	return l.userBy(ctx, "id", id)
}

// UserByEmail возвращает пользователя по email.
func (l *SQLite) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	return l.userBy(ctx, "email", email)
}

// UserByUsername возвращает пользователя по имени.
func (l *SQLite) UserByUsername(ctx context.Context, username string) (domain.User, error) {
	return l.userBy(ctx, "username", username)
}

func (l *SQLite) userBy(ctx context.Context, column, value string) (domain.User, error) {
	var u domain.User
	var created, updated int64
	stmt := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1;`
	err := l.DB.QueryRowContext(ctx, stmt, value).Scan(&u.ID, &u.Username, &u.Email,
		&u.PasswordHash, &u.Avatar, &u.AvatarKey, &created, &updated)
	if err != nil {
		return domain.User{}, storeErr(err)
	}
	u.CreatedAt, u.UpdatedAt = fromUnix(created), fromUnix(updated)
	return u, nil
}

// UpdateUser обновляет имя и аватар пользователя.
func (l *SQLite) UpdateUser(ctx context.Context, u *domain.User) error {
	return l.tx(ctx, func(tx *sql.Tx) error {
		stmt := `UPDATE users SET username = $1, avatar = $2, avatar_key = $3, updated_at = $4
			WHERE id = $5;`
		res, err := tx.ExecContext(ctx, stmt, u.Username, u.Avatar, u.AvatarKey, unix(u.UpdatedAt), u.ID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNoRows
		}
		return nil
	})
}
