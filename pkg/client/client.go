// Пакет client - клиент REST API блога.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rtemka/lumina/domain"
	"github.com/rtemka/lumina/pkg/service"
	"go.uber.org/multierr"
)

// Error - ошибка, которую вернул сервер.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// Client - клиент REST API.
type Client struct {
	base  string
	http  *http.Client
	token string
}

// New возвращает [*Client]. Если hc == nil, используется
// клиент с таймаутом 10 секунд.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimSuffix(baseURL, "/"), http: hc}
}

// WithToken возвращает копию клиента, отправляющую токен.
func (c *Client) WithToken(token string) *Client {
	cc := *c
	cc.token = token
	return &cc
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	var env struct {
		Response json.RawMessage `json:"response"`
		Error    string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("api: %s %s: decoding response: %w", method, path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &Error{StatusCode: resp.StatusCode, Message: env.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Response, out)
}

// Register создает учетную запись.
func (c *Client) Register(ctx context.Context, username, email, password string) (service.Session, error) {
	var s service.Session
	in := map[string]string{"username": username, "email": email, "password": password}
	return s, c.do(ctx, http.MethodPost, "/auth/register", in, &s)
}

// Login выполняет вход.
func (c *Client) Login(ctx context.Context, email, password string) (service.Session, error) {
	var s service.Session
	in := map[string]string{"email": email, "password": password}
	return s, c.do(ctx, http.MethodPost, "/auth/login", in, &s)
}

// Post получает пост вместе с комментариями.
func (c *Client) Post(ctx context.Context, id string) (service.PostDetails, error) {
	var p service.PostDetails
	return p, c.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(id), nil, &p)
}

// CreatePost создает пост без обложки.
func (c *Client) CreatePost(ctx context.Context, title, content string, tags []string) (domain.Post, error) {
	var p domain.Post
	in := map[string]any{"title": title, "content": content, "tags": tags}
	return p, c.do(ctx, http.MethodPost, "/posts", in, &p)
}

// Comments получает дерево комментариев поста.
func (c *Client) Comments(ctx context.Context, postID string) ([]domain.Thread, error) {
	var t []domain.Thread
	return t, c.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(postID)+"/comments", nil, &t)
}

// AddComment добавляет комментарий или ответ, если parentID не пуст.
func (c *Client) AddComment(ctx context.Context, postID, content, parentID string) (domain.Comment, error) {
	var cm domain.Comment
	in := map[string]string{"content": content}
	if parentID != "" {
		in["parent_id"] = parentID
	}
	return cm, c.do(ctx, http.MethodPost, "/posts/"+url.PathEscape(postID)+"/comments", in, &cm)
}

// MarkRead отмечает комментарий прочитанным.
func (c *Client) MarkRead(ctx context.Context, postID, commentID string) (service.ReadState, error) {
	var st service.ReadState
	path := "/posts/" + url.PathEscape(postID) + "/comments/" + url.PathEscape(commentID) + "/read"
	return st, c.do(ctx, http.MethodPatch, path, nil, &st)
}

// Notifications получает ленту непрочитанных комментариев пользователя.
// limit == 0 - размер ленты по умолчанию.
func (c *Client) Notifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	path := "/users/" + url.PathEscape(userID) + "/notifications"
	if limit != 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var n []domain.Notification
	return n, c.do(ctx, http.MethodGet, path, nil, &n)
}

// MarkAllRead по очереди отмечает прочитанными все записи ленты.
// Отдельного метода API для этого нет, поэтому операция не атомарна:
// при ошибке на одной записи остальные все равно обрабатываются.
// Возвращает id отмеченных комментариев и все ошибки вместе.
func (c *Client) MarkAllRead(ctx context.Context, feed []domain.Notification) ([]string, error) {
	marked := make([]string, 0, len(feed))
	var errs error
	for _, n := range feed {
		if err := ctx.Err(); err != nil {
			return marked, multierr.Append(errs, err)
		}
		if _, err := c.MarkRead(ctx, n.Post.ID, n.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("comment %s: %w", n.ID, err))
			continue
		}
		marked = append(marked, n.ID)
	}
	return marked, errs
}

// AutoMarkRead отмечает прочитанными непрочитанные чужие комментарии
// верхнего уровня, когда автор открывает свой пост. Уже отправленные
// в этой сессии отметки не повторяются, неудачные - забываются.
func (c *Client) AutoMarkRead(ctx context.Context, post domain.Post, threads []domain.Thread,
	userID string, t *ReadTracker) error {

	if userID == "" || post.Author.ID != userID {
		return nil
	}
	var errs error
	for _, id := range t.Pending(threads, userID) {
		if _, err := c.MarkRead(ctx, post.ID, id); err != nil {
			t.Forget(id)
			errs = multierr.Append(errs, fmt.Errorf("comment %s: %w", id, err))
		}
	}
	return errs
}
