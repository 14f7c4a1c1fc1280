package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/rtemka/lumina/domain"
)

const commentColumns = `
	c.id, c.post_id, c.parent_id, c.content, c.is_owner_reply, c.read_by, c.created_at,
	c.author_id, COALESCE(u.username, ''), COALESCE(u.avatar, '')`

const commentFrom = ` FROM comments AS c LEFT JOIN users AS u ON u.id = c.author_id`

// CreateComment создает комментарий к посту.
func (p *Postgres) CreateComment(ctx context.Context, c *domain.Comment) error {
	return p.tx(ctx, func(tx pgx.Tx) error {
		var one int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM posts WHERE id = $1;`, c.PostID).Scan(&one); err != nil {
			return err
		}
		stmt := `
			INSERT INTO comments(id, post_id, author_id, parent_id, content,
				is_owner_reply, read_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`
		_, err := tx.Exec(ctx, stmt, c.ID, c.PostID, c.Author.ID, c.ParentID, c.Content,
			c.IsOwnerReply, nonNil(c.ReadBy), c.CreatedAt)
		return err
	})
}

// Comment находит комментарий по id.
func (p *Postgres) Comment(ctx context.Context, id string) (domain.Comment, error) {
	coms, err := p.queryComments(ctx, `SELECT`+commentColumns+commentFrom+` WHERE c.id = $1;`, id)
	if err != nil {
		return domain.Comment{}, err
	}
	if len(coms) == 0 {
		return domain.Comment{}, domain.ErrNoRows
	}
	return coms[0], nil
}

// Comments получает все комментарии к посту, новые первыми.
func (p *Postgres) Comments(ctx context.Context, postID string) ([]domain.Comment, error) {
	stmt := `SELECT` + commentColumns + commentFrom +
		` WHERE c.post_id = $1 ORDER BY c.created_at DESC, c.seq DESC;`
	return p.queryComments(ctx, stmt, postID)
}

// AddReader добавляет пользователя в read_by, если его там нет.
func (p *Postgres) AddReader(ctx context.Context, commentID, userID string) error {
	return p.tx(ctx, func(tx pgx.Tx) error {
		stmt := `
			UPDATE comments SET read_by = array_append(read_by, $2)
			WHERE id = $1 AND NOT ($2 = ANY(read_by));`
		tag, err := tx.Exec(ctx, stmt, commentID, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		// уже отмечен или комментария нет
		var one int
		return tx.QueryRow(ctx, `SELECT 1 FROM comments WHERE id = $1;`, commentID).Scan(&one)
	})
}

// CountVisible считает комментарии, не являющиеся ответами автора поста.
func (p *Postgres) CountVisible(ctx context.Context, postIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}
	stmt := `
		SELECT post_id, COUNT(*) FROM comments
		WHERE post_id = ANY($1) AND NOT is_owner_reply
		GROUP BY post_id;`

	rows, err := p.db.Query(ctx, stmt, postIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// Unread возвращает комментарии к постам postIDs, написанные не userID
// и не прочитанные userID, новые первыми.
func (p *Postgres) Unread(ctx context.Context, postIDs []string, userID string, limit int) ([]domain.Comment, error) {
	if len(postIDs) == 0 {
		return []domain.Comment{}, nil
	}
	var stmt statement
	stmt.sql = `SELECT` + commentColumns + commentFrom
	stmt.sql += ` WHERE c.post_id = ANY(` + stmt.arg(postIDs) + `)`
	u := stmt.arg(userID)
	stmt.sql += ` AND c.author_id <> ` + u + ` AND NOT (` + u + ` = ANY(c.read_by))`
	stmt.sql += ` ORDER BY c.created_at DESC, c.seq DESC`
	if limit > 0 {
		stmt.sql += ` LIMIT ` + stmt.arg(limit)
	}
	return p.queryComments(ctx, stmt.sql, stmt.args...)
}

func (p *Postgres) queryComments(ctx context.Context, sql string, args ...any) ([]domain.Comment, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	coms := []domain.Comment{}

	for rows.Next() {
		var c domain.Comment
		err := rows.Scan(&c.ID, &c.PostID, &c.ParentID, &c.Content, &c.IsOwnerReply,
			&c.ReadBy, &c.CreatedAt, &c.Author.ID, &c.Author.Username, &c.Author.Avatar)
		if err != nil {
			return nil, err
		}
		c.ReadBy = nonNil(c.ReadBy)
		c.CreatedAt = utc(c.CreatedAt)
		coms = append(coms, c)
	}

	return coms, rows.Err()
}
