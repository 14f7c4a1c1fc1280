package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rtemka/lumina/domain"
	"github.com/rtemka/lumina/pkg/auth"
	"github.com/rtemka/lumina/pkg/media"
)

// Session - пользователь и выданный ему токен.
type Session struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

// Profile - пользователь и его посты.
type Profile struct {
	User  domain.User   `json:"user"`
	Posts []domain.Post `json:"posts"`
}

// Registration - данные для регистрации.
type Registration struct {
	Username string
	Email    string
	Password string
}

// ProfileUpdate - изменение профиля. Пустое имя
// и nil-аватар означают "не менять".
type ProfileUpdate struct {
	UserID   string
	Username string
	Avatar   *media.File
}

func checkUsername(name string) error {
	n := utf8.RuneCountInString(name)
	if n < domain.MinUsernameLen || n > domain.MaxUsernameLen {
		return domain.ErrInvalidUsername
	}
	return nil
}

// Register создает учетную запись и выдает токен.
func (s *Service) Register(ctx context.Context, r Registration) (Session, error) {
	username := strings.TrimSpace(r.Username)
	email := strings.ToLower(strings.TrimSpace(r.Email))

	if err := checkUsername(username); err != nil {
		return Session{}, err
	}
	if !strings.Contains(email, "@") {
		return Session{}, domain.ErrInvalidEmail
	}
	if utf8.RuneCountInString(r.Password) < domain.MinPasswordLen {
		return Session{}, domain.ErrPasswordTooShort
	}
	if len(r.Password) > domain.MaxPasswordLen {
		return Session{}, domain.ErrPasswordTooLong
	}

	for _, lookup := range []func() (domain.User, error){
		func() (domain.User, error) { return s.repo.UserByEmail(ctx, email) },
		func() (domain.User, error) { return s.repo.UserByUsername(ctx, username) },
	} {
		_, err := lookup()
		if err == nil {
			return Session{}, domain.ErrAccountExists
		}
		if !errors.Is(err, domain.ErrNoRows) {
			return Session{}, fmt.Errorf("register: %w", err)
		}
	}

	hash, err := auth.HashPassword(r.Password)
	if err != nil {
		return Session{}, fmt.Errorf("register: %w", err)
	}

	now := s.now()
	u := domain.User{
		ID:           s.newID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateUser(ctx, &u); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return Session{}, domain.ErrAccountExists
		}
		return Session{}, fmt.Errorf("register: %w", err)
	}

	return s.session(u)
}

// Login проверяет email и пароль и выдает токен.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	u, err := s.repo.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return Session{}, notFound(err, domain.ErrInvalidCredentials, "login")
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return Session{}, domain.ErrInvalidCredentials
	}
	return s.session(u)
}

func (s *Service) session(u domain.User) (Session, error) {
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{User: u, Token: token}, nil
}

// Authenticate проверяет токен и возвращает id пользователя.
func (s *Service) Authenticate(token string) (string, error) {
	if token == "" {
		return "", domain.ErrAuthRequired
	}
	id, err := s.tokens.Verify(token)
	if err != nil {
		return "", domain.ErrInvalidToken
	}
	return id, nil
}

// Profile возвращает пользователя и его посты, новые первыми.
func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	u, err := s.repo.User(ctx, userID)
	if err != nil {
		return Profile{}, notFound(err, domain.ErrUserNotFound, "profile")
	}
	posts, err := s.repo.PostsByAuthor(ctx, userID)
	if err != nil {
		return Profile{}, fmt.Errorf("profile: %w", err)
	}
	return Profile{User: u, Posts: posts}, nil
}

// UpdateProfile меняет имя и аватар. Если ничего
// не изменилось, запись не выполняется.
func (s *Service) UpdateProfile(ctx context.Context, pu ProfileUpdate) (domain.User, error) {
	u, err := s.repo.User(ctx, pu.UserID)
	if err != nil {
		return domain.User{}, notFound(err, domain.ErrUserNotFound, "update profile")
	}

	changed := false

	if name := strings.TrimSpace(pu.Username); name != "" && name != u.Username {
		if err := checkUsername(name); err != nil {
			return domain.User{}, err
		}
		other, err := s.repo.UserByUsername(ctx, name)
		switch {
		case err == nil && other.ID != u.ID:
			return domain.User{}, domain.ErrUsernameTaken
		case err != nil && !errors.Is(err, domain.ErrNoRows):
			return domain.User{}, fmt.Errorf("update profile: %w", err)
		}
		u.Username = name
		changed = true
	}

	avatar, err := s.upload(ctx, pu.Avatar)
	if err != nil {
		return domain.User{}, err
	}
	oldKey := ""
	if avatar.URL != "" {
		oldKey = u.AvatarKey
		u.Avatar, u.AvatarKey = avatar.URL, avatar.Key
		changed = true
	}

	if !changed {
		return u, nil
	}

	u.UpdatedAt = s.now()
	if err := s.repo.UpdateUser(ctx, &u); err != nil {
		s.cleanup(ctx, avatar.Key)
		if errors.Is(err, domain.ErrDuplicate) {
			return domain.User{}, domain.ErrUsernameTaken
		}
		return domain.User{}, notFound(err, domain.ErrUserNotFound, "update profile")
	}
	s.cleanup(ctx, oldKey)

	return u, nil
}
