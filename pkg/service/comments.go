package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rtemka/lumina/domain"
)

// ReadState - id комментария и множество прочитавших его.
type ReadState struct {
	ID     string   `json:"id"`
	ReadBy []string `json:"read_by"`
}

// AddComment добавляет комментарий к посту. Ответ (parentID != "")
// допускается только на комментарий верхнего уровня и только
// от автора поста.
func (s *Service) AddComment(ctx context.Context, postID, authorID, content, parentID string) (domain.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Comment{}, domain.ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > domain.MaxCommentLen {
		return domain.Comment{}, domain.ErrContentTooLong
	}
	if s.banned.Banned(content) {
		return domain.Comment{}, domain.ErrContentRejected
	}

	post, err := s.repo.Post(ctx, postID)
	if err != nil {
		return domain.Comment{}, notFound(err, domain.ErrPostNotFound, "add comment")
	}

	if parentID != "" {
		parent, err := s.repo.Comment(ctx, parentID)
		if err != nil && !errors.Is(err, domain.ErrNoRows) {
			return domain.Comment{}, fmt.Errorf("add comment: %w", err)
		}
		if err != nil || parent.PostID != postID {
			return domain.Comment{}, domain.ErrParentNotFound
		}
		if parent.IsReply() {
			return domain.Comment{}, domain.ErrNestingTooDeep
		}
		if authorID != post.Author.ID {
			return domain.Comment{}, domain.ErrNotAllowedToReply
		}
	}

	author, err := s.repo.User(ctx, authorID)
	if err != nil {
		return domain.Comment{}, notFound(err, domain.ErrUserNotFound, "add comment")
	}

	c := domain.Comment{
		ID:       s.newID(),
		PostID:   postID,
		ParentID: parentID,
		Content:  content,
		// вычисляется один раз и больше не меняется
		IsOwnerReply: parentID != "" && authorID == post.Author.ID,
		ReadBy:       []string{},
		CreatedAt:    s.now(),
		Author:       author.Public(),
	}

	if err := s.repo.CreateComment(ctx, &c); err != nil {
		return domain.Comment{}, notFound(err, domain.ErrPostNotFound, "add comment")
	}

	return c, nil
}

// ListCommentsForPost возвращает дерево комментариев поста.
func (s *Service) ListCommentsForPost(ctx context.Context, postID string) ([]domain.Thread, error) {
	if _, err := s.repo.Post(ctx, postID); err != nil {
		return nil, notFound(err, domain.ErrPostNotFound, "list comments")
	}
	coms, err := s.repo.Comments(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return domain.ToTree(coms), nil
}

// MarkCommentAsRead отмечает комментарий прочитанным автором поста.
// Повторный вызов ничего не записывает.
func (s *Service) MarkCommentAsRead(ctx context.Context, postID, commentID, requesterID string) (ReadState, error) {
	post, err := s.repo.Post(ctx, postID)
	if err != nil {
		return ReadState{}, notFound(err, domain.ErrPostNotFound, "mark comment as read")
	}
	if post.Author.ID != requesterID {
		return ReadState{}, domain.ErrNotAllowed
	}

	c, err := s.repo.Comment(ctx, commentID)
	if err != nil && !errors.Is(err, domain.ErrNoRows) {
		return ReadState{}, fmt.Errorf("mark comment as read: %w", err)
	}
	if err != nil || c.PostID != postID {
		return ReadState{}, domain.ErrCommentNotFound
	}

	if !c.ReadByUser(requesterID) {
		if err := s.repo.AddReader(ctx, c.ID, requesterID); err != nil {
			return ReadState{}, notFound(err, domain.ErrCommentNotFound, "mark comment as read")
		}
		c.ReadBy = append(c.ReadBy, requesterID)
	}

	return ReadState{ID: c.ID, ReadBy: c.ReadBy}, nil
}
