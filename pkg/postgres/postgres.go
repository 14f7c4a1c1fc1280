package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rtemka/lumina/domain"
)

//go:embed schema.sql
var schema string

// код ошибки unique_violation
const uniqueViolation = "23505"

type statement struct {
	sql  string
	args []any
}

// arg добавляет аргумент и возвращает его плейсхолдер.
func (stmt *statement) arg(v any) string {
	stmt.args = append(stmt.args, v)
	return fmt.Sprintf("$%d", len(stmt.args))
}

// Postgres выполняет CRUD операции с БД
type Postgres struct {
	db *pgxpool.Pool
}

var _ domain.Repository = (*Postgres)(nil)

// New выполняет подключение
// и возвращает объект для взаимодействия с БД
func New(connString string) (*Postgres, error) {

	pool, err := pgxpool.Connect(context.Background(), connString)
	if err != nil {
		return nil, err
	}

	return &Postgres{db: pool}, pool.Ping(context.Background())
}

// Close выполняет закрытие подключения к БД
func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}

// Migrate создает таблицы, если их нет.
func (p *Postgres) Migrate(ctx context.Context) error {
	return p.exec(ctx, schema)
}

// RunFile читает и исполняет sql-файл.
func (p *Postgres) RunFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return p.exec(context.Background(), string(b))
}

// exec вспомогательная функция, выполняет
// Exec() в транзакции
func (p *Postgres) exec(ctx context.Context, sql string, args ...any) error {
	return p.tx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, sql, args...)
		return err
	})
}

// tx выполняет fn в транзакции.
func (p *Postgres) tx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return storeErr(p.db.BeginFunc(ctx, fn))
}

// storeErr приводит ошибки драйвера к ошибкам хранилища.
func storeErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNoRows
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrDuplicate
	}
	return err
}

// affected проверяет, что команда изменила хотя бы одну строку.
func affected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return domain.ErrNoRows
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// CreatePost сохраняет пост.
func (p *Postgres) CreatePost(ctx context.Context, post *domain.Post) error {
	stmt := `
		INSERT INTO posts(id, author_id, title, content, tags, likes,
			cover_image, cover_image_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`

	return p.exec(ctx, stmt, post.ID, post.Author.ID, post.Title, post.Content,
		nonNil(post.Tags), nonNil(post.Likes), post.CoverImage, post.CoverImageKey,
		post.CreatedAt, post.UpdatedAt)
}

const postColumns = `
	p.id, p.title, p.content, p.tags, p.likes, p.cover_image, p.cover_image_key,
	p.created_at, p.updated_at,
	p.author_id, COALESCE(u.username, ''), COALESCE(u.avatar, '')`

const postFrom = ` FROM posts AS p LEFT JOIN users AS u ON u.id = p.author_id`

// Post находит по id и возвращает пост.
func (p *Postgres) Post(ctx context.Context, id string) (domain.Post, error) {
	posts, err := p.queryPosts(ctx, `SELECT`+postColumns+postFrom+` WHERE p.id = $1;`, id)
	if err != nil {
		return domain.Post{}, err
	}
	if len(posts) == 0 {
		return domain.Post{}, domain.ErrNoRows
	}
	return posts[0], nil
}

// UpdatePost сохраняет заголовок, текст, теги и обложку.
func (p *Postgres) UpdatePost(ctx context.Context, post *domain.Post) error {
	return p.tx(ctx, func(tx pgx.Tx) error {
		stmt := `
			UPDATE posts SET title = $1, content = $2, tags = $3,
				cover_image = $4, cover_image_key = $5, updated_at = $6
			WHERE id = $7;`
		tag, err := tx.Exec(ctx, stmt, post.Title, post.Content, nonNil(post.Tags),
			post.CoverImage, post.CoverImageKey, post.UpdatedAt, post.ID)
		if err != nil {
			return err
		}
		return affected(tag)
	})
}

// SetLikes перезаписывает лайки поста.
func (p *Postgres) SetLikes(ctx context.Context, postID string, likes []string) error {
	return p.tx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE posts SET likes = $1 WHERE id = $2;`, nonNil(likes), postID)
		if err != nil {
			return err
		}
		return affected(tag)
	})
}

// DeletePost удаляет пост вместе с комментариями,
// используя [*pgx.Batch]
func (p *Postgres) DeletePost(ctx context.Context, id string) error {
	return p.tx(ctx, func(tx pgx.Tx) error {
		b := new(pgx.Batch)
		b.Queue(`DELETE FROM comments WHERE post_id = $1;`, id)
		b.Queue(`DELETE FROM posts WHERE id = $1;`, id)

		br := tx.SendBatch(ctx, b)
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return err
		}
		if err := br.Close(); err != nil {
			return err
		}
		return affected(tag)
	})
}

func (stmt *statement) addWhereClause(f *domain.PostFilter) {
	var conds []string
	if f.Search != "" {
		conds = append(conds, fmt.Sprintf("strpos(lower(p.title), lower(%s)) > 0", stmt.arg(f.Search)))
	}
	if len(f.Tags) > 0 {
		conds = append(conds, fmt.Sprintf("p.tags && %s::text[]", stmt.arg(f.Tags)))
	}
	if len(conds) > 0 {
		stmt.sql += " WHERE " + strings.Join(conds, " AND ")
	}
}

func (stmt *statement) addLimitOffsetClause(f *domain.PostFilter) {
	if f.Limit > 0 {
		stmt.sql += " LIMIT " + stmt.arg(f.Limit)
	}
	if o := f.Offset(); o > 0 {
		stmt.sql += " OFFSET " + stmt.arg(o)
	}
}

// Posts возвращает списком посты, отобранные согласно фильтру.
func (p *Postgres) Posts(ctx context.Context, f domain.PostFilter) ([]domain.Post, error) {
	var stmt statement
	stmt.sql = `SELECT` + postColumns + postFrom
	stmt.addWhereClause(&f)
	stmt.sql += ` ORDER BY p.created_at DESC, p.seq DESC`
	stmt.addLimitOffsetClause(&f)

	return p.queryPosts(ctx, stmt.sql, stmt.args...)
}

// CountPosts возвращает количество постов по фильтру (для пагинации).
func (p *Postgres) CountPosts(ctx context.Context, f domain.PostFilter) (int, error) {
	var stmt statement
	stmt.sql = `SELECT COUNT(p.id) FROM posts AS p`
	stmt.addWhereClause(&f)

	var c int

	return c, p.db.QueryRow(ctx, stmt.sql, stmt.args...).Scan(&c)
}

// PostsByAuthor возвращает все посты автора, новые первыми.
func (p *Postgres) PostsByAuthor(ctx context.Context, authorID string) ([]domain.Post, error) {
	stmt := `SELECT` + postColumns + postFrom +
		` WHERE p.author_id = $1 ORDER BY p.created_at DESC, p.seq DESC;`
	return p.queryPosts(ctx, stmt, authorID)
}

func (p *Postgres) queryPosts(ctx context.Context, sql string, args ...any) ([]domain.Post, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []domain.Post{}

	for rows.Next() {
		var post domain.Post
		err := rows.Scan(&post.ID, &post.Title, &post.Content, &post.Tags, &post.Likes,
			&post.CoverImage, &post.CoverImageKey, &post.CreatedAt, &post.UpdatedAt,
			&post.Author.ID, &post.Author.Username, &post.Author.Avatar)
		if err != nil {
			return nil, err
		}
		post.Tags, post.Likes = nonNil(post.Tags), nonNil(post.Likes)
		post.CreatedAt, post.UpdatedAt = utc(post.CreatedAt), utc(post.UpdatedAt)
		posts = append(posts, post)
	}

	return posts, rows.Err()
}

func utc(t time.Time) time.Time { return t.UTC() }
