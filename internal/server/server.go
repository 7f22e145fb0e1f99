package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bookshare/internal/app"
	"bookshare/internal/ratelimit"
	"bookshare/internal/util"
	"bookshare/pkg/domain"
)

const defaultCookieName = "bookshare_session"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App               *app.App
	CookieName        string
	SessionTTL        time.Duration
	MaxUploadBytes    int64
	AllowedExtensions []string
	TrustedProxies    *util.TrustedProxies
	LoginLimiter      *ratelimit.FixedWindowLimiter
	RegisterLimiter   *ratelimit.FixedWindowLimiter
}

// Server exposes the HTML surface of the catalog.
type Server struct {
	app               *app.App
	views             *Renderer
	router            chi.Router
	cookieName        string
	sessionTTL        time.Duration
	maxUploadBytes    int64
	allowedExtensions map[string]struct{}
	trusted           *util.TrustedProxies
	loginLimiter      *ratelimit.FixedWindowLimiter
	registerLimiter   *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("app is required")
	}
	views, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = defaultCookieName
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	s := &Server{
		app:               cfg.App,
		views:             views,
		cookieName:        cookieName,
		sessionTTL:        sessionTTL,
		maxUploadBytes:    normalizeMaxBytes(cfg.MaxUploadBytes),
		allowedExtensions: normalizeExtensions(cfg.AllowedExtensions),
		trusted:           cfg.TrustedProxies,
		loginLimiter:      cfg.LoginLimiter,
		registerLimiter:   cfg.RegisterLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(s.router)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(util.WithRequestID)
	r.Use(util.WithRequestLog)
	r.Use(s.withSession)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/catalog", http.StatusFound)
	})
	r.Get("/login", s.handleLoginForm)
	r.Post("/login", s.handleLogin)
	r.Get("/register", s.handleRegisterForm)
	r.Post("/register", s.handleRegister)
	r.Get("/logout", s.handleLogout)

	r.Get("/catalog", s.handleCatalog)
	r.Get("/book/{bookID}", s.handleDownload)
	r.Get("/search", s.handleSearch)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/add-book", s.handleAddBookForm)
		r.Post("/add-book", s.handleAddBook)

		r.Group(func(r chi.Router) {
			r.Use(s.ownBook)
			r.Get("/edit/{bookID}", s.handleEditForm)
			r.Post("/edit/{bookID}", s.handleEdit)
			// Removal is a POST: the predecessor exposed this destructive
			// action on GET, which safe-method semantics forbid.
			r.Post("/remove/{bookID}", s.handleRemove)
		})
	})

	r.NotFound(s.handleNotFound)
	s.router = r
}

// context plumbing

type userContextKey struct{}
type bookContextKey struct{}

func contextWithUser(ctx context.Context, user domain.PublicUser) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

func currentUser(r *http.Request) (domain.PublicUser, bool) {
	user, ok := r.Context().Value(userContextKey{}).(domain.PublicUser)
	return user, ok
}

func contextWithBook(ctx context.Context, book domain.Book) context.Context {
	return context.WithValue(ctx, bookContextKey{}, book)
}

func guardedBook(r *http.Request) (domain.Book, bool) {
	book, ok := r.Context().Value(bookContextKey{}).(domain.Book)
	return book, ok
}

// middleware

// withSession resolves the session cookie to a user on every request.
// An absent cookie or dead session yields an unauthenticated request,
// never an error.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := s.sessionToken(r); token != "" {
			if user, ok := s.app.UserFromToken(token); ok {
				r = r.WithContext(contextWithUser(r.Context(), user))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := currentUser(r); !ok {
			http.Redirect(w, r, "/catalog", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ownBook verifies the requesting user owns the routed book before any
// mutation runs, and passes the fetched book forward so handlers do not
// look it up again.
func (s *Server) ownBook(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(r)
		if !ok {
			http.Redirect(w, r, "/catalog", http.StatusFound)
			return
		}
		bookID := chi.URLParam(r, "bookID")
		book, err := s.app.BookForOwner(bookID, user.ID)
		if err != nil {
			s.audit(r, "catalog.authorize", "fail", "book_id", bookID, "user_id", user.ID, "reason", err.Error())
			s.renderError(w, r, err)
			return
		}
		s.audit(r, "catalog.authorize", "success", "book_id", bookID, "user_id", user.ID)
		next.ServeHTTP(w, r.WithContext(contextWithBook(r.Context(), book)))
	})
}

// auth handlers

type registerRequest struct {
	Username        string
	Password        string
	ConfirmPassword string
}

type loginRequest struct {
	Username string
	Password string
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "login", viewData{})
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "register", viewData{})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		s.audit(r, "auth.register", "rate_limited")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, fmt.Errorf("%w: invalid form data", app.ErrValidation))
		return
	}
	req := registerRequest{
		Username:        r.PostFormValue("username"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirmPassword"),
	}
	user, token, err := s.app.Register(req.Username, req.Password, req.ConfirmPassword)
	if err != nil {
		s.audit(r, "auth.register", "fail", "reason", err.Error())
		s.renderError(w, r, err)
		return
	}
	s.audit(r, "auth.register", "success", "user_id", user.ID)
	s.setSessionCookie(w, token)
	http.Redirect(w, r, "/catalog", http.StatusFound)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "auth.login", "rate_limited")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, fmt.Errorf("%w: invalid form data", app.ErrValidation))
		return
	}
	req := loginRequest{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
	}
	user, token, err := s.app.Login(req.Username, req.Password)
	if err != nil {
		// The log keeps the unknown-user / wrong-password distinction;
		// the rendered page does not.
		s.audit(r, "auth.login", "fail", "reason", err.Error())
		s.renderError(w, r, err)
		return
	}
	s.audit(r, "auth.login", "success", "user_id", user.ID)
	s.setSessionCookie(w, token)
	http.Redirect(w, r, "/catalog", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := s.sessionToken(r); token != "" {
		if err := s.app.Logout(token); err != nil {
			s.audit(r, "auth.logout", "fail", "reason", err.Error())
			s.renderError(w, r, err)
			return
		}
	}
	s.audit(r, "auth.logout", "success")
	s.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

// catalog handlers

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.app.ListBooks(0)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "home", viewData{Books: entries})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	entries, err := s.app.Search(query)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "search", viewData{Books: entries, Query: query})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	book, err := s.app.GetBook(chi.URLParam(r, "bookID"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	rc, err := s.app.OpenBookFile(book)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(book.OriginalFilename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", book.OriginalFilename))
	if book.SizeBytes > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", book.SizeBytes))
	}
	if _, err := io.Copy(w, rc); err != nil {
		util.LoggerFromContext(r.Context()).Warn("stream book file", "book_id", book.ID, "err", err)
	}
}

func (s *Server) handleAddBookForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "add-book", viewData{})
}

func (s *Server) handleAddBook(w http.ResponseWriter, r *http.Request) {
	user, _ := currentUser(r)
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.renderError(w, r, fmt.Errorf("%w: invalid upload", app.ErrValidation))
		return
	}
	file, header, err := r.FormFile("book")
	if err != nil {
		s.renderError(w, r, fmt.Errorf("%w: please upload a book and add its title", app.ErrValidation))
		return
	}
	defer file.Close()
	if !s.isExtensionAllowed(header.Filename) {
		s.renderError(w, r, fmt.Errorf("%w: unsupported file type", app.ErrValidation))
		return
	}
	book, err := s.app.CreateBook(
		user.ID,
		r.PostFormValue("title"),
		r.PostFormValue("author"),
		r.PostFormValue("genre"),
		&app.Upload{Filename: header.Filename, Size: header.Size, Reader: file},
	)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.audit(r, "catalog.create", "success", "book_id", book.ID, "user_id", user.ID)
	http.Redirect(w, r, "/catalog", http.StatusFound)
}

func (s *Server) handleEditForm(w http.ResponseWriter, r *http.Request) {
	book, _ := guardedBook(r)
	s.render(w, r, http.StatusOK, "edit-book", viewData{Book: book})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	user, _ := currentUser(r)
	book, _ := guardedBook(r)
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, fmt.Errorf("%w: invalid form data", app.ErrValidation))
		return
	}
	err := s.app.UpdateBook(
		book.ID,
		user.ID,
		r.PostFormValue("title"),
		r.PostFormValue("author"),
		r.PostFormValue("genre"),
	)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.audit(r, "catalog.update", "success", "book_id", book.ID, "user_id", user.ID)
	http.Redirect(w, r, "/catalog", http.StatusFound)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	user, _ := currentUser(r)
	book, _ := guardedBook(r)
	if err := s.app.DeleteBook(book.ID, user.ID); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.audit(r, "catalog.remove", "success", "book_id", book.ID, "user_id", user.ID)
	http.Redirect(w, r, "/catalog", http.StatusFound)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusNotFound, "not-found", viewData{})
}

// rendering and error mapping

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data viewData) {
	if user, ok := currentUser(r); ok {
		data.User = &user
	}
	s.views.Render(w, status, name, data)
}

// renderError is the single top-level error path: it maps the taxonomy
// to pages and hides internal failures behind a generic message.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		s.render(w, r, http.StatusNotFound, "not-found", viewData{})
	case errors.Is(err, app.ErrForbidden):
		s.render(w, r, http.StatusForbidden, "error", viewData{Message: err.Error()})
	case errors.Is(err, app.ErrUsernameTaken):
		s.render(w, r, http.StatusConflict, "error", viewData{Message: err.Error()})
	case errors.Is(err, app.ErrInvalidCredentials):
		s.render(w, r, http.StatusUnauthorized, "error", viewData{Message: app.ErrInvalidCredentials.Error()})
	case errors.Is(err, app.ErrValidation):
		s.render(w, r, http.StatusBadRequest, "error", viewData{Message: err.Error()})
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		s.render(w, r, http.StatusInternalServerError, "error", viewData{Message: "something went wrong, please try again"})
	}
}

// session cookie helpers

func (s *Server) sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// helpers

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	s.render(w, r, http.StatusTooManyRequests, "error", viewData{Message: msg})
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) isExtensionAllowed(filename string) bool {
	if len(s.allowedExtensions) == 0 {
		return true
	}
	_, ok := s.allowedExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 * 1024 * 1024
	}
	return value
}

func normalizeExtensions(exts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}
