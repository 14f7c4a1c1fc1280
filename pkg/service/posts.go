package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rtemka/lumina/domain"
	"github.com/rtemka/lumina/pkg/media"
	"github.com/rtemka/lumina/pkg/sanitize"
	"golang.org/x/sync/errgroup"
)

// размер страницы постов
const (
	DefaultPageSize = 9
	MinPageSize     = 3
	MaxPageSize     = 24
)

// Pagination - сведения о страницах выборки.
type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Pages int `json:"pages"`
}

// PostList - страница постов.
type PostList struct {
	Posts      []domain.Post `json:"posts"`
	Pagination Pagination    `json:"pagination"`
}

// PostDetails - пост вместе с деревом комментариев.
type PostDetails struct {
	Post     domain.Post     `json:"post"`
	Comments []domain.Thread `json:"comments"`
}

// LikeState - результат переключения лайка.
type LikeState struct {
	Likes int  `json:"likes"`
	Liked bool `json:"liked"`
}

// NewPost - данные для создания поста.
type NewPost struct {
	AuthorID string
	Title    string
	Content  string // HTML
	Tags     []string
	Cover    *media.File
}

// PostUpdate - частичное обновление поста.
// Пустые строки и nil-теги означают "не менять".
type PostUpdate struct {
	PostID      string
	RequesterID string
	Title       string
	Content     string
	Tags        []string
	Cover       *media.File
}

// NormalizeFilter приводит параметры выборки к допустимым.
func NormalizeFilter(f domain.PostFilter) domain.PostFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Limit == 0:
		f.Limit = DefaultPageSize
	case f.Limit < MinPageSize:
		f.Limit = MinPageSize
	case f.Limit > MaxPageSize:
		f.Limit = MaxPageSize
	}
	f.Search = strings.TrimSpace(f.Search)
	f.Tags = sanitize.Tags(f.Tags)
	return f
}

// ListPosts возвращает страницу постов с анонсами и
// количеством комментариев.
func (s *Service) ListPosts(ctx context.Context, f domain.PostFilter) (PostList, error) {
	f = NormalizeFilter(f)

	var posts []domain.Post
	var total int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		posts, err = s.repo.Posts(gctx, f)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.CountPosts(gctx, f)
		return err
	})
	if err := g.Wait(); err != nil {
		return PostList{}, fmt.Errorf("list posts: %w", err)
	}

	ids := make([]string, len(posts))
	for i := range posts {
		ids[i] = posts[i].ID
	}
	counts, err := s.repo.CountVisible(ctx, ids)
	if err != nil {
		return PostList{}, fmt.Errorf("list posts: %w", err)
	}

	for i := range posts {
		posts[i].CommentCount = counts[posts[i].ID]
		posts[i].Excerpt = sanitize.Excerpt(posts[i].Content)
	}

	pages := (total + f.Limit - 1) / f.Limit
	if pages < 1 {
		pages = 1
	}

	if posts == nil {
		posts = []domain.Post{}
	}

	return PostList{
		Posts:      posts,
		Pagination: Pagination{Total: total, Page: f.Page, Pages: pages},
	}, nil
}

// GetPost возвращает пост и дерево комментариев к нему.
func (s *Service) GetPost(ctx context.Context, id string) (PostDetails, error) {
	var post domain.Post
	var coms []domain.Comment

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		post, err = s.repo.Post(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		coms, err = s.repo.Comments(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return PostDetails{}, notFound(err, domain.ErrPostNotFound, "get post")
	}

	tree := domain.ToTree(coms)
	post.CommentCount = domain.VisibleCount(tree)

	return PostDetails{Post: post, Comments: tree}, nil
}

func checkTitle(title string) error {
	n := utf8.RuneCountInString(title)
	switch {
	case n < domain.MinTitleLen:
		return domain.ErrTitleTooShort
	case n > domain.MaxTitleLen:
		return domain.ErrTitleTooLong
	}
	return nil
}

// cleanContent очищает HTML и проверяет длину текста.
func cleanContent(content string) (string, error) {
	clean := sanitize.HTML(content)
	if utf8.RuneCountInString(sanitize.PlainText(clean)) < domain.MinContentLen {
		return "", domain.ErrContentTooShort
	}
	return clean, nil
}

// CreatePost создает пост. Если пост не удалось сохранить,
// загруженная обложка удаляется.
func (s *Service) CreatePost(ctx context.Context, np NewPost) (domain.Post, error) {
	title := strings.TrimSpace(np.Title)
	if title == "" || strings.TrimSpace(np.Content) == "" {
		return domain.Post{}, domain.ErrTitleContentRequired
	}
	if err := checkTitle(title); err != nil {
		return domain.Post{}, err
	}
	content, err := cleanContent(np.Content)
	if err != nil {
		return domain.Post{}, err
	}

	author, err := s.repo.User(ctx, np.AuthorID)
	if err != nil {
		return domain.Post{}, notFound(err, domain.ErrUserNotFound, "create post")
	}

	cover, err := s.upload(ctx, np.Cover)
	if err != nil {
		return domain.Post{}, err
	}

	now := s.now()
	p := domain.Post{
		ID:            s.newID(),
		Title:         title,
		Content:       content,
		Author:        author.Public(),
		Tags:          sanitize.Tags(np.Tags),
		CoverImage:    cover.URL,
		CoverImageKey: cover.Key,
		Likes:         []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.CreatePost(ctx, &p); err != nil {
		s.cleanup(ctx, cover.Key)
		return domain.Post{}, fmt.Errorf("create post: %w", err)
	}

	return p, nil
}

// UpdatePost частично обновляет пост. Обновлять пост может только автор.
// Новая обложка заменяет старую, старая удаляется.
func (s *Service) UpdatePost(ctx context.Context, u PostUpdate) (domain.Post, error) {
	p, err := s.repo.Post(ctx, u.PostID)
	if err != nil {
		return domain.Post{}, notFound(err, domain.ErrPostNotFound, "update post")
	}
	if p.Author.ID != u.RequesterID {
		return domain.Post{}, domain.ErrNotAllowedToUpdate
	}

	if title := strings.TrimSpace(u.Title); title != "" {
		if err := checkTitle(title); err != nil {
			return domain.Post{}, err
		}
		p.Title = title
	}
	if strings.TrimSpace(u.Content) != "" {
		content, err := cleanContent(u.Content)
		if err != nil {
			return domain.Post{}, err
		}
		p.Content = content
	}
	if u.Tags != nil {
		p.Tags = sanitize.Tags(u.Tags)
	}

	cover, err := s.upload(ctx, u.Cover)
	if err != nil {
		return domain.Post{}, err
	}
	oldKey := ""
	if cover.URL != "" {
		oldKey = p.CoverImageKey
		p.CoverImage, p.CoverImageKey = cover.URL, cover.Key
	}

	p.UpdatedAt = s.now()

	if err := s.repo.UpdatePost(ctx, &p); err != nil {
		s.cleanup(ctx, cover.Key)
		return domain.Post{}, notFound(err, domain.ErrPostNotFound, "update post")
	}
	s.cleanup(ctx, oldKey)

	return p, nil
}

// DeletePost удаляет пост вместе с комментариями и обложкой.
func (s *Service) DeletePost(ctx context.Context, postID, requesterID string) error {
	p, err := s.repo.Post(ctx, postID)
	if err != nil {
		return notFound(err, domain.ErrPostNotFound, "delete post")
	}
	if p.Author.ID != requesterID {
		return domain.ErrNotAllowedToDelete
	}
	if err := s.repo.DeletePost(ctx, postID); err != nil {
		return notFound(err, domain.ErrPostNotFound, "delete post")
	}
	s.cleanup(ctx, p.CoverImageKey)
	return nil
}

// ToggleLike ставит или снимает лайк пользователя.
func (s *Service) ToggleLike(ctx context.Context, postID, userID string) (LikeState, error) {
	p, err := s.repo.Post(ctx, postID)
	if err != nil {
		return LikeState{}, notFound(err, domain.ErrPostNotFound, "toggle like")
	}

	liked := p.LikedBy(userID)
	likes := make([]string, 0, len(p.Likes)+1)
	for _, id := range p.Likes {
		if id != userID {
			likes = append(likes, id)
		}
	}
	if !liked {
		likes = append(likes, userID)
	}

	if err := s.repo.SetLikes(ctx, postID, likes); err != nil {
		return LikeState{}, notFound(err, domain.ErrPostNotFound, "toggle like")
	}

	return LikeState{Likes: len(likes), Liked: !liked}, nil
}
