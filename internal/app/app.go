package app

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookshare/internal/storage"
	"bookshare/internal/store"
	"bookshare/pkg/auth"
	"bookshare/pkg/domain"
)

// Config wires the persistence layers into the application core.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	Files    storage.BlobStore
}

// App is the application core: account handling, session resolution,
// ownership checks, and the book catalog.
type App struct {
	store    store.Store
	sessions store.SessionStore
	files    storage.BlobStore
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("data store required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	if cfg.Files == nil {
		return nil, fmt.Errorf("file store required")
	}
	return &App{
		store:    cfg.Store,
		sessions: cfg.Sessions,
		files:    cfg.Files,
	}, nil
}

// Register creates a new account and an initial session for it.
func (a *App) Register(username, password, confirmPassword string) (domain.PublicUser, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" || strings.TrimSpace(confirmPassword) == "" {
		return domain.PublicUser{}, "", fmt.Errorf("%w: all fields are required", ErrValidation)
	}
	if password != confirmPassword {
		return domain.PublicUser{}, "", fmt.Errorf("%w: passwords do not match", ErrValidation)
	}
	taken, err := a.store.HasUsername(username)
	if err != nil {
		return domain.PublicUser{}, "", fmt.Errorf("check username: %w", err)
	}
	if taken {
		return domain.PublicUser{}, "", ErrUsernameTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.PublicUser{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(user); err != nil {
		return domain.PublicUser{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.PublicUser{}, "", fmt.Errorf("issue session: %w", err)
	}
	slog.Info("user registered", "user_id", user.ID)
	return user.Public(), token, nil
}

// Login validates credentials and issues a session token. The returned
// error distinguishes unknown usernames from wrong passwords for logging;
// both unwrap to ErrInvalidCredentials for display.
func (a *App) Login(username, password string) (domain.PublicUser, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.PublicUser{}, "", fmt.Errorf("%w: username and password are required", ErrValidation)
	}
	user, ok, err := a.store.GetUserByUsername(username)
	if err != nil {
		return domain.PublicUser{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.PublicUser{}, "", ErrUnknownUsername
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.PublicUser{}, "", ErrWrongPassword
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.PublicUser{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user.Public(), token, nil
}

// UserFromToken resolves a session token to its user, minus the password
// hash. A missing or expired session is not an error: the request simply
// proceeds unauthenticated.
func (a *App) UserFromToken(token string) (domain.PublicUser, bool) {
	if token == "" {
		return domain.PublicUser{}, false
	}
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.PublicUser{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.PublicUser{}, false
	}
	return user.Public(), true
}

// Logout destroys the session. Logging out an already-invalid token
// succeeds; only a storage failure is an error.
func (a *App) Logout(token string) error {
	if err := a.sessions.DeleteSession(token); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

// BookForOwner is the single ownership-authorization path: it fetches the
// book and verifies the requesting user owns it, returning the book so
// callers do not look it up twice. Identifiers are compared as trimmed
// strings since they cross layer boundaries.
func (a *App) BookForOwner(bookID, userID string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrNotFound
	}
	if strings.TrimSpace(book.OwnerID) != strings.TrimSpace(userID) {
		return domain.Book{}, ErrForbidden
	}
	return book, nil
}
