package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rtemka/lumina/domain"
)

const postColumns = `
	p.id, p.title, p.content, p.cover_image, p.cover_image_key,
	p.created_at, p.updated_at,
	p.author_id, COALESCE(u.username, ''), COALESCE(u.avatar, '')`

const postFrom = ` FROM posts AS p LEFT JOIN users AS u ON u.id = p.author_id`

// CreatePost сохраняет пост вместе с тегами и лайками.
func (l *SQLite) CreatePost(ctx context.Context, p *domain.Post) error {
	return l.tx(ctx, func(tx *sql.Tx) error {
		stmt := `INSERT INTO posts(id, author_id, title, content, cover_image,
			cover_image_key, created_at, updated_at)
			VALUES($1, $2, $3, $4, $5, $6, $7, $8);`
		_, err := tx.ExecContext(ctx, stmt, p.ID, p.Author.ID, p.Title, p.Content,
			p.CoverImage, p.CoverImageKey, unix(p.CreatedAt), unix(p.UpdatedAt))
		if err != nil {
			return err
		}
		if err := insertSet(ctx, tx, "post_tags", "post_id", "tag", p.ID, p.Tags); err != nil {
			return err
		}
		return insertSet(ctx, tx, "post_likes", "post_id", "user_id", p.ID, p.Likes)
	})
}

// Post возвращает пост по id.
func (l *SQLite) Post(ctx context.Context, id string) (domain.Post, error) {
	posts, err := l.queryPosts(ctx, `SELECT`+postColumns+postFrom+` WHERE p.id = ?;`, id)
	if err != nil {
		return domain.Post{}, err
	}
	if len(posts) == 0 {
		return domain.Post{}, domain.ErrNoRows
	}
	return posts[0], nil
}

// UpdatePost сохраняет заголовок, текст, теги и обложку.
func (l *SQLite) UpdatePost(ctx context.Context, p *domain.Post) error {
	return l.tx(ctx, func(tx *sql.Tx) error {
		stmt := `UPDATE posts SET title = $1, content = $2, cover_image = $3,
			cover_image_key = $4, updated_at = $5 WHERE id = $6;`
		res, err := tx.ExecContext(ctx, stmt, p.Title, p.Content, p.CoverImage,
			p.CoverImageKey, unix(p.UpdatedAt), p.ID)
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
		if _, err := tx.ExecContext(ctx, `DELETE FROM post_tags WHERE post_id = $1;`, p.ID); err != nil {
			return err
		}
		return insertSet(ctx, tx, "post_tags", "post_id", "tag", p.ID, p.Tags)
	})
}

// SetLikes перезаписывает лайки поста.
func (l *SQLite) SetLikes(ctx context.Context, postID string, likes []string) error {
	return l.tx(ctx, func(tx *sql.Tx) error {
		if err := exists(ctx, tx, "posts", postID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM post_likes WHERE post_id = $1;`, postID); err != nil {
			return err
		}
		return insertSet(ctx, tx, "post_likes", "post_id", "user_id", postID, likes)
	})
}

// DeletePost удаляет пост вместе с комментариями.
// Каскад выполняется явно, чтобы не зависеть от PRAGMA foreign_keys.
func (l *SQLite) DeletePost(ctx context.Context, id string) error {
	return l.tx(ctx, func(tx *sql.Tx) error {
		if err := exists(ctx, tx, "posts", id); err != nil {
			return err
		}
		stmts := []string{
			`DELETE FROM comment_reads WHERE comment_id IN (SELECT id FROM comments WHERE post_id = $1);`,
			`DELETE FROM comments WHERE post_id = $1;`,
			`DELETE FROM post_tags WHERE post_id = $1;`,
			`DELETE FROM post_likes WHERE post_id = $1;`,
			`DELETE FROM posts WHERE id = $1;`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// postWhere строит условие выборки по фильтру.
func postWhere(f domain.PostFilter) (string, []any) {
	var conds []string
	var args []any
	if f.Search != "" {
		conds = append(conds, `instr(ulower(p.title), ulower(?)) > 0`)
		args = append(args, f.Search)
	}
	if len(f.Tags) > 0 {
		conds = append(conds, `EXISTS (SELECT 1 FROM post_tags AS t
			WHERE t.post_id = p.id AND t.tag IN (`+placeholders(len(f.Tags))+`))`)
		args = append(args, strArgs(f.Tags)...)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(conds, ` AND `), args
}

// Posts возвращает страницу постов по фильтру, новые первыми.
func (l *SQLite) Posts(ctx context.Context, f domain.PostFilter) ([]domain.Post, error) {
	where, args := postWhere(f)
	stmt := `SELECT` + postColumns + postFrom + where + ` ORDER BY p.created_at DESC, p.rowid DESC`
	if f.Limit > 0 {
		stmt += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset())
	}
	return l.queryPosts(ctx, stmt+";", args...)
}

// CountPosts возвращает количество постов по фильтру.
func (l *SQLite) CountPosts(ctx context.Context, f domain.PostFilter) (int, error) {
	where, args := postWhere(f)
	var n int
	err := l.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts AS p`+where+`;`, args...).Scan(&n)
	return n, err
}

// PostsByAuthor возвращает все посты автора, новые первыми.
func (l *SQLite) PostsByAuthor(ctx context.Context, authorID string) ([]domain.Post, error) {
	stmt := `SELECT` + postColumns + postFrom +
		` WHERE p.author_id = ? ORDER BY p.created_at DESC, p.rowid DESC;`
	return l.queryPosts(ctx, stmt, authorID)
}

func (l *SQLite) queryPosts(ctx context.Context, stmt string, args ...any) ([]domain.Post, error) {
	rows, err := l.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []domain.Post{}
	var ids []string

	for rows.Next() {
		var p domain.Post
		var created, updated int64
		err := rows.Scan(&p.ID, &p.Title, &p.Content, &p.CoverImage, &p.CoverImageKey,
			&created, &updated, &p.Author.ID, &p.Author.Username, &p.Author.Avatar)
		if err != nil {
			return nil, err
		}
		p.CreatedAt, p.UpdatedAt = fromUnix(created), fromUnix(updated)
		posts = append(posts, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tags, err := l.sets(ctx, "post_tags", "post_id", "tag", ids)
	if err != nil {
		return nil, err
	}
	likes, err := l.sets(ctx, "post_likes", "post_id", "user_id", ids)
	if err != nil {
		return nil, err
	}
	for i := range posts {
		posts[i].Tags = nonNil(tags[posts[i].ID])
		posts[i].Likes = nonNil(likes[posts[i].ID])
	}

	return posts, nil
}
