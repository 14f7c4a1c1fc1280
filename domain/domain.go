package domain

import (
	"context"
	"time"
)

// ограничения на входные данные
const (
	MaxCommentLen  = 500 // символов, не байт
	MinTitleLen    = 3
	MaxTitleLen    = 150
	MinContentLen  = 20 // символов текста без разметки
	MinUsernameLen = 3
	MaxUsernameLen = 30
	MinPasswordLen = 6
	MaxPasswordLen = 72 // байт, предел bcrypt
)

// Author - публичные данные пользователя,
// которые показываются рядом с постом или комментарием.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// User - модель данных пользователя.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Avatar       string    `json:"avatar"`
	AvatarKey    string    `json:"-"` // ключ аватара в хранилище файлов
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Public возвращает публичные данные пользователя.
func (u User) Public() Author {
	return Author{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

// Post - модель данных поста.
type Post struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Content       string    `json:"content"` // очищенный HTML
	Author        Author    `json:"author"`
	Tags          []string  `json:"tags"`
	CoverImage    string    `json:"cover_image"`
	CoverImageKey string    `json:"-"`
	Likes         []string  `json:"likes"`
	CommentCount  int       `json:"comment_count"`
	Excerpt       string    `json:"excerpt,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LikedBy сообщает, есть ли пользователь среди лайкнувших пост.
func (p Post) LikedBy(userID string) bool {
	return contains(p.Likes, userID)
}

// Comment - модель данных комментария к посту.
// Пустой ParentID означает комментарий верхнего уровня.
type Comment struct {
	ID           string    `json:"id"`
	PostID       string    `json:"post_id"`
	ParentID     string    `json:"parent_id,omitempty"`
	Content      string    `json:"content"`
	IsOwnerReply bool      `json:"is_owner_reply"`
	ReadBy       []string  `json:"read_by"`
	CreatedAt    time.Time `json:"created_at"`
	Author       Author    `json:"author"`
}

// IsReply сообщает, является ли комментарий ответом.
func (c Comment) IsReply() bool { return c.ParentID != "" }

// ReadByUser сообщает, отметил ли пользователь комментарий прочитанным.
func (c Comment) ReadByUser(userID string) bool {
	return contains(c.ReadBy, userID)
}

// Thread - комментарий верхнего уровня вместе с ответами на него.
type Thread struct {
	Comment
	Replies []Comment `json:"replies"`
}

// Notification - запись ленты непрочитанных комментариев
// к постам пользователя. Отдельно не хранится, вычисляется
// каждый раз из комментариев.
type Notification struct {
	ID        string           `json:"id"` // id комментария
	Content   string           `json:"content"`
	CreatedAt time.Time        `json:"created_at"`
	Post      NotificationPost `json:"post"`
	Author    Author           `json:"user"`
}

// NotificationPost - пост, к которому оставлен комментарий.
type NotificationPost struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// PostFilter - параметры выборки постов.
type PostFilter struct {
	Page   int      // номер страницы, с 1
	Limit  int      // размер страницы
	Search string   // подстрока заголовка без учета регистра
	Tags   []string // любой из тегов
}

// Offset возвращает смещение для страницы.
func (f PostFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// PostRepository - контракт на работу с постами.
type PostRepository interface {
	CreatePost(ctx context.Context, p *Post) error
	Post(ctx context.Context, id string) (Post, error)
	// UpdatePost сохраняет заголовок, текст, теги и обложку.
	UpdatePost(ctx context.Context, p *Post) error
	// SetLikes перезаписывает множество лайков поста.
	SetLikes(ctx context.Context, postID string, likes []string) error
	// DeletePost удаляет пост вместе с комментариями.
	DeletePost(ctx context.Context, id string) error
	Posts(ctx context.Context, f PostFilter) ([]Post, error) // новые первыми
	CountPosts(ctx context.Context, f PostFilter) (int, error)
	PostsByAuthor(ctx context.Context, authorID string) ([]Post, error)
}

// CommentRepository - контракт на работу с комментариями.
type CommentRepository interface {
	CreateComment(ctx context.Context, c *Comment) error
	Comment(ctx context.Context, id string) (Comment, error)
	Comments(ctx context.Context, postID string) ([]Comment, error) // новые первыми
	AddReader(ctx context.Context, commentID, userID string) error
	// CountVisible считает комментарии, не являющиеся ответами автора поста.
	CountVisible(ctx context.Context, postIDs []string) (map[string]int, error)
	// Unread возвращает комментарии к постам postIDs, написанные не userID
	// и не прочитанные userID, новые первыми.
	Unread(ctx context.Context, postIDs []string, userID string, limit int) ([]Comment, error)
}

// UserRepository - контракт на работу с пользователями.
type UserRepository interface {
	CreateUser(ctx context.Context, u *User) error
	User(ctx context.Context, id string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByUsername(ctx context.Context, username string) (User, error)
	UpdateUser(ctx context.Context, u *User) error
}

// Repository - все хранилище целиком.
type Repository interface {
	PostRepository
	CommentRepository
	UserRepository
	Close() error // закрыть соединение с БД.
}

func contains(set []string, v string) bool {
	for i := range set {
		if set[i] == v {
			return true
		}
	}
	return false
}
