package service

import (
	"context"
	"fmt"

	"github.com/rtemka/lumina/domain"
)

// границы размера ленты
const (
	DefaultNotificationLimit = 20
	MaxNotificationLimit     = 50
)

// NotificationLimit приводит размер ленты к [1, 50],
// 0 означает значение по умолчанию.
func NotificationLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultNotificationLimit
	case limit < 1:
		return 1
	case limit > MaxNotificationLimit:
		return MaxNotificationLimit
	}
	return limit
}

// UnreadReplyNotifications возвращает непрочитанные пользователем
// чужие комментарии к его постам, новые первыми. Лента не хранится,
// а вычисляется из комментариев.
func (s *Service) UnreadReplyNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	limit = NotificationLimit(limit)

	posts, err := s.repo.PostsByAuthor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("notifications: %w", err)
	}

	out := []domain.Notification{}
	if len(posts) == 0 {
		return out, nil
	}

	ids := make([]string, len(posts))
	titles := make(map[string]string, len(posts))
	for i := range posts {
		ids[i] = posts[i].ID
		titles[posts[i].ID] = posts[i].Title
	}

	coms, err := s.repo.Unread(ctx, ids, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("notifications: %w", err)
	}

	for _, c := range coms {
		out = append(out, domain.Notification{
			ID:        c.ID,
			Content:   c.Content,
			CreatedAt: c.CreatedAt,
			Post:      domain.NotificationPost{ID: c.PostID, Title: titles[c.PostID]},
			Author:    c.Author,
		})
	}
	return out, nil
}
