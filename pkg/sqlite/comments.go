package sqlite

import (
	"context"
	"database/sql"

	"github.com/rtemka/lumina/domain"
)

const commentColumns = `
	c.id, c.post_id, c.parent_id, c.content, c.is_owner_reply, c.created_at,
	c.author_id, COALESCE(u.username, ''), COALESCE(u.avatar, '')`

const commentFrom = ` FROM comments AS c LEFT JOIN users AS u ON u.id = c.author_id`

// CreateComment создает комментарий к посту.
func (l *SQLite) CreateComment(ctx context.Context, c *domain.Comment) error {
	return l.tx(ctx, func(tx *sql.Tx) error {
		if err := exists(ctx, tx, "posts", c.PostID); err != nil {
			return err
		}
		stmt := `INSERT INTO comments(id, post_id, author_id, parent_id, content,
			is_owner_reply, created_at)
			VALUES($1, $2, $3, $4, $5, $6, $7);`
		_, err := tx.ExecContext(ctx, stmt, c.ID, c.PostID, c.Author.ID, c.ParentID,
			c.Content, c.IsOwnerReply, unix(c.CreatedAt))
		if err != nil {
			return err
		}
		return insertSet(ctx, tx, "comment_reads", "comment_id", "user_id", c.ID, c.ReadBy)
	})
}

// Comment возвращает комментарий по id.
func (l *SQLite) Comment(ctx context.Context, id string) (domain.Comment, error) {
	coms, err := l.queryComments(ctx, `SELECT`+commentColumns+commentFrom+` WHERE c.id = ?;`, id)
	if err != nil {
		return domain.Comment{}, err
	}
	if len(coms) == 0 {
		return domain.Comment{}, domain.ErrNoRows
	}
	return coms[0], nil
}

// Comments получает все комментарии к посту, новые первыми.
func (l *SQLite) Comments(ctx context.Context, postID string) ([]domain.Comment, error) {
	stmt := `SELECT` + commentColumns + commentFrom +
		` WHERE c.post_id = ? ORDER BY c.created_at DESC, c.rowid DESC;`
	return l.queryComments(ctx, stmt, postID)
}

// AddReader отмечает комментарий прочитанным пользователем.
// Повторная отметка ничего не меняет.
func (l *SQLite) AddReader(ctx context.Context, commentID, userID string) error {
	return l.tx(ctx, func(tx *sql.Tx) error {
		if err := exists(ctx, tx, "comments", commentID); err != nil {
			return err
		}
		return insertSet(ctx, tx, "comment_reads", "comment_id", "user_id", commentID, []string{userID})
	})
}

// CountVisible считает комментарии, не являющиеся ответами автора поста.
func (l *SQLite) CountVisible(ctx context.Context, postIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}
	stmt := `SELECT post_id, COUNT(*) FROM comments
		WHERE post_id IN (` + placeholders(len(postIDs)) + `) AND is_owner_reply = 0
		GROUP BY post_id;`

	rows, err := l.DB.QueryContext(ctx, stmt, strArgs(postIDs)...)
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
func (l *SQLite) Unread(ctx context.Context, postIDs []string, userID string, limit int) ([]domain.Comment, error) {
	if len(postIDs) == 0 {
		return []domain.Comment{}, nil
	}
	stmt := `SELECT` + commentColumns + commentFrom + `
		WHERE c.post_id IN (` + placeholders(len(postIDs)) + `)
		AND c.author_id <> ?
		AND NOT EXISTS (SELECT 1 FROM comment_reads AS r WHERE r.comment_id = c.id AND r.user_id = ?)
		ORDER BY c.created_at DESC, c.rowid DESC`
	args := append(strArgs(postIDs), userID, userID)
	if limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, limit)
	}
	return l.queryComments(ctx, stmt+";", args...)
}

func (l *SQLite) queryComments(ctx context.Context, stmt string, args ...any) ([]domain.Comment, error) {
	rows, err := l.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	coms := []domain.Comment{}
	var ids []string

	for rows.Next() {
		var c domain.Comment
		var created int64
		err := rows.Scan(&c.ID, &c.PostID, &c.ParentID, &c.Content, &c.IsOwnerReply, &created,
			&c.Author.ID, &c.Author.Username, &c.Author.Avatar)
		if err != nil {
			return nil, err
		}
		c.CreatedAt = fromUnix(created)
		coms = append(coms, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	readers, err := l.sets(ctx, "comment_reads", "comment_id", "user_id", ids)
	if err != nil {
		return nil, err
	}
	for i := range coms {
		coms[i].ReadBy = nonNil(readers[coms[i].ID])
	}

	return coms, nil
}
