// Пакет memdb - хранилище в памяти процесса.
// Используется в тестах и для локального запуска без БД.
package memdb

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rtemka/lumina/domain"
)

// MemDB хранит все данные в памяти.
type MemDB struct {
	mu       sync.RWMutex
	posts    map[string]domain.Post
	comments map[string]domain.Comment
	users    map[string]domain.User
	seq      map[string]int // порядок вставки, для стабильной сортировки
	n        int
}

var _ domain.Repository = (*MemDB)(nil)

// New возвращает пустое хранилище.
func New() *MemDB {
	return &MemDB{
		posts:    make(map[string]domain.Post),
		comments: make(map[string]domain.Comment),
		users:    make(map[string]domain.User),
		seq:      make(map[string]int),
	}
}

func (m *MemDB) Close() error { return nil }

func (m *MemDB) next(id string) {
	m.n++
	m.seq[id] = m.n
}

// author подставляет актуальные публичные данные автора.
func (m *MemDB) author(id string) domain.Author {
	if u, ok := m.users[id]; ok {
		return u.Public()
	}
	return domain.Author{ID: id}
}

func clone(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func (m *MemDB) readPost(p domain.Post) domain.Post {
	p.Author = m.author(p.Author.ID)
	p.Tags = clone(p.Tags)
	p.Likes = clone(p.Likes)
	return p
}

func (m *MemDB) readComment(c domain.Comment) domain.Comment {
	c.Author = m.author(c.Author.ID)
	c.ReadBy = clone(c.ReadBy)
	return c
}

// newestFirst сортирует по времени создания, при равенстве - по порядку вставки.
func (m *MemDB) newestFirst(ids []string, created func(string) int64) {
	sort.SliceStable(ids, func(i, j int) bool {
		ci, cj := created(ids[i]), created(ids[j])
		if ci != cj {
			return ci > cj
		}
		return m.seq[ids[i]] > m.seq[ids[j]]
	})
}

// CreatePost сохраняет пост.
func (m *MemDB) CreatePost(_ context.Context, p *domain.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[p.ID]; ok {
		return domain.ErrDuplicate
	}
	stored := *p
	stored.Tags = clone(p.Tags)
	stored.Likes = clone(p.Likes)
	m.posts[p.ID] = stored
	m.next(p.ID)
	return nil
}

// Post возвращает пост по id.
func (m *MemDB) Post(_ context.Context, id string) (domain.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	if !ok {
		return domain.Post{}, domain.ErrNoRows
	}
	return m.readPost(p), nil
}

// UpdatePost обновляет изменяемые поля поста.
func (m *MemDB) UpdatePost(_ context.Context, p *domain.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.posts[p.ID]
	if !ok {
		return domain.ErrNoRows
	}
	stored.Title = p.Title
	stored.Content = p.Content
	stored.Tags = clone(p.Tags)
	stored.CoverImage = p.CoverImage
	stored.CoverImageKey = p.CoverImageKey
	stored.UpdatedAt = p.UpdatedAt
	m.posts[p.ID] = stored
	return nil
}

// SetLikes перезаписывает лайки поста.
func (m *MemDB) SetLikes(_ context.Context, postID string, likes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.posts[postID]
	if !ok {
		return domain.ErrNoRows
	}
	stored.Likes = clone(likes)
	m.posts[postID] = stored
	return nil
}

// DeletePost удаляет пост и комментарии к нему.
func (m *MemDB) DeletePost(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[id]; !ok {
		return domain.ErrNoRows
	}
	delete(m.posts, id)
	for cid, c := range m.comments {
		if c.PostID == id {
			delete(m.comments, cid)
		}
	}
	return nil
}

func match(p domain.Post, f domain.PostFilter) bool {
	if f.Search != "" && !strings.Contains(strings.ToLower(p.Title), strings.ToLower(f.Search)) {
		return false
	}
	if len(f.Tags) == 0 {
		return true
	}
	for _, t := range f.Tags {
		for _, pt := range p.Tags {
			if t == pt {
				return true
			}
		}
	}
	return false
}

func (m *MemDB) filtered(f domain.PostFilter) []string {
	var ids []string
	for id, p := range m.posts {
		if match(p, f) {
			ids = append(ids, id)
		}
	}
	m.newestFirst(ids, func(id string) int64 { return m.posts[id].CreatedAt.UnixNano() })
	return ids
}

// Posts возвращает страницу постов по фильтру.
func (m *MemDB) Posts(_ context.Context, f domain.PostFilter) ([]domain.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.filtered(f)
	if off := f.Offset(); off > 0 {
		if off >= len(ids) {
			ids = nil
		} else {
			ids = ids[off:]
		}
	}
	if f.Limit > 0 && len(ids) > f.Limit {
		ids = ids[:f.Limit]
	}
	out := make([]domain.Post, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.readPost(m.posts[id]))
	}
	return out, nil
}

// CountPosts возвращает количество постов по фильтру.
func (m *MemDB) CountPosts(_ context.Context, f domain.PostFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.filtered(domain.PostFilter{Search: f.Search, Tags: f.Tags})), nil
}

// PostsByAuthor возвращает все посты автора, новые первыми.
func (m *MemDB) PostsByAuthor(_ context.Context, authorID string) ([]domain.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, p := range m.posts {
		if p.Author.ID == authorID {
			ids = append(ids, id)
		}
	}
	m.newestFirst(ids, func(id string) int64 { return m.posts[id].CreatedAt.UnixNano() })
	out := make([]domain.Post, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.readPost(m.posts[id]))
	}
	return out, nil
}

// CreateComment сохраняет комментарий.
func (m *MemDB) CreateComment(_ context.Context, c *domain.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[c.PostID]; !ok {
		return domain.ErrNoRows
	}
	if _, ok := m.comments[c.ID]; ok {
		return domain.ErrDuplicate
	}
	stored := *c
	stored.ReadBy = clone(c.ReadBy)
	m.comments[c.ID] = stored
	m.next(c.ID)
	return nil
}

// Comment возвращает комментарий по id.
func (m *MemDB) Comment(_ context.Context, id string) (domain.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comments[id]
	if !ok {
		return domain.Comment{}, domain.ErrNoRows
	}
	return m.readComment(c), nil
}

func (m *MemDB) commentsWhere(pred func(domain.Comment) bool) []domain.Comment {
	var ids []string
	for id, c := range m.comments {
		if pred(c) {
			ids = append(ids, id)
		}
	}
	m.newestFirst(ids, func(id string) int64 { return m.comments[id].CreatedAt.UnixNano() })
	out := make([]domain.Comment, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.readComment(m.comments[id]))
	}
	return out
}

// Comments возвращает все комментарии к посту, новые первыми.
func (m *MemDB) Comments(_ context.Context, postID string) ([]domain.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commentsWhere(func(c domain.Comment) bool { return c.PostID == postID }), nil
}

// AddReader добавляет пользователя в множество прочитавших.
func (m *MemDB) AddReader(_ context.Context, commentID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[commentID]
	if !ok {
		return domain.ErrNoRows
	}
	if !c.ReadByUser(userID) {
		c.ReadBy = append(clone(c.ReadBy), userID)
		m.comments[commentID] = c
	}
	return nil
}

// CountVisible считает комментарии без ответов автора по каждому посту.
func (m *MemDB) CountVisible(_ context.Context, postIDs []string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[string]bool, len(postIDs))
	for _, id := range postIDs {
		want[id] = true
	}
	out := make(map[string]int, len(postIDs))
	for _, c := range m.comments {
		if want[c.PostID] && !c.IsOwnerReply {
			out[c.PostID]++
		}
	}
	return out, nil
}

// Unread возвращает непрочитанные userID чужие комментарии к постам postIDs.
func (m *MemDB) Unread(_ context.Context, postIDs []string, userID string, limit int) ([]domain.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[string]bool, len(postIDs))
	for _, id := range postIDs {
		want[id] = true
	}
	out := m.commentsWhere(func(c domain.Comment) bool {
		return want[c.PostID] && c.Author.ID != userID && !c.ReadByUser(userID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateUser сохраняет пользователя. Имя и email уникальны.
func (m *MemDB) CreateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.users {
		if other.ID == u.ID || other.Email == u.Email || other.Username == u.Username {
			return domain.ErrDuplicate
		}
	}
	m.users[u.ID] = *u
	return nil
}

// User возвращает пользователя по id.
func (m *MemDB) User(_ context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNoRows
	}
	return u, nil
}

func (m *MemDB) userWhere(pred func(domain.User) bool) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if pred(u) {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNoRows
}

// UserByEmail возвращает пользователя по email.
func (m *MemDB) UserByEmail(_ context.Context, email string) (domain.User, error) {
	return m.userWhere(func(u domain.User) bool { return u.Email == email })
}

// UserByUsername возвращает пользователя по имени.
func (m *MemDB) UserByUsername(_ context.Context, username string) (domain.User, error) {
	return m.userWhere(func(u domain.User) bool { return u.Username == username })
}

// UpdateUser обновляет имя и аватар пользователя.
func (m *MemDB) UpdateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.users[u.ID]
	if !ok {
		return domain.ErrNoRows
	}
	for id, other := range m.users {
		if id != u.ID && other.Username == u.Username {
			return domain.ErrDuplicate
		}
	}
	stored.Username = u.Username
	stored.Avatar = u.Avatar
	stored.AvatarKey = u.AvatarKey
	stored.UpdatedAt = u.UpdatedAt
	m.users[u.ID] = stored
	return nil
}
