package selection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/infinity-erp/infinity/internal/companies"
	"github.com/infinity-erp/infinity/internal/platform/httpx"
	"github.com/infinity-erp/infinity/internal/shared"
	"github.com/infinity-erp/infinity/internal/view"
	"github.com/infinity-erp/infinity/jobs"
)

const (
	// PathSelection mounts the view and fetches the company list.
	PathSelection = "/CompanySelection"
	// PathCompanyLogin is the next screen in the flow.
	PathCompanyLogin = "/CompanyLogin"

	pathView   = PathSelection + "/view"
	pathSelect = PathSelection + "/select"
	pathReload = PathSelection + "/reload"

	fetchErrorMessage    = "Error fetching companies"
	inactiveMessage      = "Company is not active"
	notFoundMessage      = "Company not found"
	defaultReloadDelay   = 500 * time.Millisecond
	selectionModeAuto    = "auto"
	selectionModeManual  = "manual"
	partialGridParameter = "grid"
)

// AuditQueue receives an event for every persisted selection.
type AuditQueue interface {
	EnqueueSelectionRecord(ctx context.Context, payload jobs.SelectionRecordPayload) error
}

// Handler serves the company selection screen.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	templates   *view.Engine
	sessions    *shared.SessionManager
	csrf        *shared.CSRFManager
	audit       AuditQueue
	reloadDelay time.Duration
	now         func() time.Time
}

// NewHandler constructs a Handler. audit may be nil.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, audit AuditQueue, reloadDelay time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if reloadDelay <= 0 {
		reloadDelay = defaultReloadDelay
	}
	return &Handler{
		logger:      logger,
		service:     service,
		templates:   templates,
		sessions:    sessions,
		csrf:        csrf,
		audit:       audit,
		reloadDelay: reloadDelay,
		now:         time.Now,
	}
}

// MountRoutes registers the selection routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get(PathSelection, h.mount)
	r.Get(pathView, h.showView)
	r.Post(pathSelect, h.selectCompany)
	r.Post(pathReload, h.reload)
	r.Get(PathCompanyLogin, h.companyLogin)
}

type gridPageData struct {
	Cards         []Card
	Total         int
	Query         string
	SearchVisible bool
	SearchParam   string
	ToggleSearch  string
}

type errorPageData struct {
	Message string
}

type companyLoginData struct {
	Company companies.Company
}

type viewResponse struct {
	Query     string              `json:"query"`
	Total     int                 `json:"total"`
	Companies []companies.Company `json:"companies"`
}

func (h *Handler) mount(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("selection mounted without session")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	outcome, err := h.service.Load(r.Context(), sess.ID, sess.AuthToken())
	if err != nil {
		h.logger.Warn("fetch companies", slog.Any("error", err))
		h.renderError(w, r)
		return
	}

	if outcome.State == StateSingle && outcome.Selected != nil {
		if err := h.persist(r, sess, *outcome.Selected, selectionModeAuto); err != nil {
			h.logger.Error("persist selection", slog.Any("error", err))
			h.renderError(w, r)
			return
		}
		http.Redirect(w, r, PathCompanyLogin, http.StatusSeeOther)
		return
	}

	cards := make([]Card, 0, len(outcome.Companies))
	for i, company := range outcome.Companies {
		cards = append(cards, Card{Ref: strconv.Itoa(i), Company: company})
	}
	h.renderGrid(w, r, View{Cards: cards, Total: len(outcome.Companies)}, false)
}

func (h *Handler) showView(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		http.Redirect(w, r, PathSelection, http.StatusSeeOther)
		return
	}
	query := r.URL.Query()
	term := query.Get("q")
	searchVisible := query.Get("search") == "1"

	result, err := h.service.Visible(r.Context(), sess.ID, term)
	if err != nil {
		if errors.Is(err, ErrViewExpired) {
			if wantsJSON(r) {
				httpx.RespondError(w, httpx.ErrNotFound)
				return
			}
			http.Redirect(w, r, PathSelection, http.StatusSeeOther)
			return
		}
		h.logger.Error("load stored companies", slog.Any("error", err))
		if wantsJSON(r) {
			httpx.RespondError(w, err)
			return
		}
		h.renderError(w, r)
		return
	}

	if wantsJSON(r) {
		list := make([]companies.Company, 0, len(result.Cards))
		for _, card := range result.Cards {
			list = append(list, card.Company)
		}
		httpx.JSON(w, http.StatusOK, viewResponse{Query: term, Total: result.Total, Companies: list})
		return
	}
	if query.Get("partial") == partialGridParameter {
		// The grid fragment has no notification area, so pending flashes
		// wait for the next full page.
		h.renderPage(w, r, "partials/company_grid", h.gridData(result, searchVisible), http.StatusOK, false)
		return
	}
	h.renderGrid(w, r, result, searchVisible)
}

func (h *Handler) selectCompany(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		http.Redirect(w, r, PathSelection, http.StatusSeeOther)
		return
	}
	back := viewURL(r.PostFormValue("q"), r.PostFormValue("search") == "1")

	company, err := h.service.Select(r.Context(), sess.ID, r.PostFormValue("ref"), r.PostFormValue("name"))
	switch {
	case err == nil:
	case errors.Is(err, ErrCompanyInactive):
		h.redirectWithFlash(w, r, back, "error", inactiveMessage)
		return
	case errors.Is(err, ErrCompanyNotFound):
		h.redirectWithFlash(w, r, back, "error", notFoundMessage)
		return
	case errors.Is(err, ErrViewExpired):
		http.Redirect(w, r, PathSelection, http.StatusSeeOther)
		return
	default:
		h.logger.Error("select company", slog.Any("error", err))
		h.renderError(w, r)
		return
	}

	if err := h.persist(r, sess, company, selectionModeManual); err != nil {
		h.logger.Error("persist selection", slog.Any("error", err))
		h.renderError(w, r)
		return
	}
	http.Redirect(w, r, PathCompanyLogin, http.StatusSeeOther)
}

// reload shows the spinner; the page then navigates to a fresh mount.
func (h *Handler) reload(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	data := view.TemplateData{
		Title:        "Companies",
		CSRFToken:    csrfToken,
		CurrentPath:  r.URL.Path,
		RefreshURL:   PathSelection,
		RefreshAfter: h.reloadDelay,
	}
	htmlHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := h.templates.Render(w, "pages/company_selection_loading.html", data); err != nil {
		h.logger.Error("render loading", slog.Any("error", err))
	}
}

func (h *Handler) companyLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	raw := sess.Get(shared.SessionKeySelectedCompany)
	if raw == "" {
		http.Redirect(w, r, PathSelection, http.StatusSeeOther)
		return
	}
	var company companies.Company
	if err := json.Unmarshal([]byte(raw), &company); err != nil {
		h.logger.Warn("decode selected company", slog.Any("error", err))
		sess.Delete(shared.SessionKeySelectedCompany)
		http.Redirect(w, r, PathSelection, http.StatusSeeOther)
		return
	}
	h.render(w, r, "pages/company_login.html", companyLoginData{Company: company}, http.StatusOK)
}

func (h *Handler) persist(r *http.Request, sess *shared.Session, company companies.Company, mode string) error {
	data, err := json.Marshal(company)
	if err != nil {
		return err
	}
	sess.Set(shared.SessionKeySelectedCompany, string(data))

	if h.audit == nil || h.sessions == nil {
		return nil
	}
	payload := jobs.SelectionRecordPayload{
		EventID:          uuid.NewString(),
		SessionID:        h.sessions.Fingerprint(sess.ID),
		CompanyID:        company.ID,
		CompanyName:      company.Name,
		ConnectionStatus: company.ConnectionStatus,
		Mode:             mode,
		SelectedAt:       h.now().UTC(),
	}
	if err := h.audit.EnqueueSelectionRecord(r.Context(), payload); err != nil {
		h.logger.Warn("enqueue selection audit", slog.Any("error", err), slog.String("company", company.Name))
	}
	return nil
}

func (h *Handler) gridData(result View, searchVisible bool) gridPageData {
	data := gridPageData{
		Cards:         result.Cards,
		Total:         result.Total,
		Query:         result.Query,
		SearchVisible: searchVisible,
	}
	if searchVisible {
		data.SearchParam = "1"
	} else {
		data.ToggleSearch = "1"
	}
	return data
}

func (h *Handler) renderGrid(w http.ResponseWriter, r *http.Request, result View, searchVisible bool) {
	h.render(w, r, "pages/company_selection.html", h.gridData(result, searchVisible), http.StatusOK)
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/company_selection_error.html", errorPageData{Message: fetchErrorMessage}, http.StatusBadGateway)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data any, status int) {
	h.renderPage(w, r, template, data, status, true)
}

func (h *Handler) renderPage(w http.ResponseWriter, r *http.Request, template string, data any, status int, withFlash bool) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	viewData := view.TemplateData{
		Title:       "Companies",
		CSRFToken:   csrfToken,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if withFlash {
		viewData.Flash = sess.PopFlash()
	}
	htmlHeaders(w)
	w.WriteHeader(status)
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err), slog.String("template", template))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func viewURL(term string, searchVisible bool) string {
	values := url.Values{}
	if term != "" {
		values.Set("q", term)
	}
	if searchVisible {
		values.Set("search", "1")
	}
	if len(values) == 0 {
		return pathView
	}
	return pathView + "?" + values.Encode()
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// htmlHeaders must run before WriteHeader; the selection pages are never
// cached so back navigation cannot resurrect a stale grid.
func htmlHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
}
