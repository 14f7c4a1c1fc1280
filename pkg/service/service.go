// Пакет service реализует бизнес-логику блога: посты,
// комментарии с ответами автора, ленту непрочитанных
// комментариев и учетные записи пользователей.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rtemka/lumina/domain"
	"github.com/rtemka/lumina/pkg/auth"
	"github.com/rtemka/lumina/pkg/media"
	"github.com/rtemka/lumina/pkg/moderation"
	"go.uber.org/zap"
)

// Service объединяет хранилище и внешние зависимости.
type Service struct {
	repo   domain.Repository
	tokens *auth.Tokens
	media  media.Store
	banned *moderation.Checker
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// Option настраивает [*Service].
type Option func(*Service)

// WithMedia задает хранилище загружаемых файлов.
func WithMedia(m media.Store) Option {
	return func(s *Service) { s.media = m }
}

// WithModeration включает проверку комментариев на запрещенные слова.
func WithModeration(c *moderation.Checker) Option {
	return func(s *Service) { s.banned = c }
}

// WithLogger задает логгер.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock подменяет часы, используется в тестах.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New возвращает [*Service].
func New(repo domain.Repository, tokens *auth.Tokens, opts ...Option) *Service {
	s := Service{
		repo:   repo,
		tokens: tokens,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &s
}

// notFound заменяет отсутствие строки на ошибку вида not found,
// прочие ошибки оборачивает.
func notFound(err error, nf *domain.Error, op string) error {
	if errors.Is(err, domain.ErrNoRows) {
		return nf
	}
	return fmt.Errorf("%s: %w", op, err)
}

// upload сохраняет файл, если он передан.
func (s *Service) upload(ctx context.Context, f *media.File) (media.Object, error) {
	if f == nil || len(f.Data) == 0 {
		return media.Object{}, nil
	}
	if s.media == nil {
		return media.Object{}, domain.ErrUploadsDisabled
	}
	if err := media.Check(*f); err != nil {
		return media.Object{}, domain.E(domain.ErrValidation, err.Error())
	}
	obj, err := s.media.Save(ctx, *f)
	if err != nil {
		return media.Object{}, fmt.Errorf("upload: %w", err)
	}
	return obj, nil
}

// cleanup удаляет файл. Ошибка только логируется.
func (s *Service) cleanup(ctx context.Context, key string) {
	if key == "" || s.media == nil {
		return
	}
	if err := s.media.Delete(ctx, key); err != nil {
		s.logger.Warn("file cleanup failed", zap.String("key", key), zap.Error(err))
	}
}
