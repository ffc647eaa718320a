// Package auth accepts the bearer token issued by the upstream sign-in flow
// and keeps it in the server-side session.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/infinity-erp/infinity/internal/platform/httpx"
	"github.com/infinity-erp/infinity/internal/shared"
)

const (
	// PathToken receives the token handoff.
	PathToken = "/auth/token"

	redirectAfterHandoff = "/CompanySelection"
	redirectAfterLogout  = "/"
)

// ViewClearer drops per-session view state when the session ends.
type ViewClearer interface {
	Clear(ctx context.Context, sessionID string) error
}

// Handler wires HTTP endpoints for the token handoff.
type Handler struct {
	logger         *slog.Logger
	sessionManager *shared.SessionManager
	views          ViewClearer
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance. views may be nil.
func NewHandler(logger *slog.Logger, sessions *shared.SessionManager, views ViewClearer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		sessionManager: sessions,
		views:          views,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/token", h.handleToken)
	r.Post("/logout", h.handleLogout)
}

type tokenForm struct {
	Token string `validate:"required,max=4096,printascii"`
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed form body")
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during token handoff")
		httpx.RespondError(w, shared.ErrSessionMissing)
		return
	}

	form := tokenForm{Token: strings.TrimSpace(r.PostFormValue("token"))}
	if err := h.validator.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		detail := "token is invalid"
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			detail = "token failed " + fieldErrs[0].Tag() + " validation"
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", detail)
		return
	}

	if sess.AuthToken() != form.Token {
		// A new identity invalidates whatever was picked before.
		sess.Delete(shared.SessionKeySelectedCompany)
		h.clearView(r.Context(), sess.ID)
		h.sessionManager.Renew(sess)
	}
	sess.Set(shared.SessionKeyAuthToken, form.Token)
	http.Redirect(w, r, redirectAfterHandoff, http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		h.clearView(r.Context(), sess.ID)
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, redirectAfterLogout, http.StatusSeeOther)
}

func (h *Handler) clearView(ctx context.Context, sessionID string) {
	if h.views == nil {
		return
	}
	if err := h.views.Clear(ctx, sessionID); err != nil {
		h.logger.Warn("clear selection view", slog.Any("error", err))
	}
}
