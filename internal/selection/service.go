package selection

import (
	"context"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/infinity-erp/infinity/internal/companies"
)

// State is the terminal state reached after mounting the view.
type State string

const (
	// StateReady renders the grid (zero or several companies).
	StateReady State = "ready"
	// StateSingle auto-selects the only company.
	StateSingle State = "single"
	// StateError renders the blocking error panel.
	StateError State = "error"
)

// Fetcher reads the company list with the user's bearer token.
type Fetcher interface {
	List(ctx context.Context, token string) ([]companies.Company, error)
}

// Recorder receives selection metrics. *observability.Metrics satisfies it.
type Recorder interface {
	ObserveFetch(outcome string, took time.Duration)
	ObserveSelection(result string)
}

// Outcome is the result of mounting the view.
type Outcome struct {
	State     State
	Companies []companies.Company
	Selected  *companies.Company
}

// Card pairs a visible company with the reference used to click it.
type Card struct {
	Ref     string
	Company companies.Company
}

// View is the filtered grid derived from the stored list.
type View struct {
	Cards []Card
	Total int
	Query string
}

// Service implements the fetch-and-select flow.
type Service struct {
	fetcher Fetcher
	store   *Store
	metrics Recorder
	group   singleflight.Group
}

// NewService constructs a Service. metrics may be nil.
func NewService(fetcher Fetcher, store *Store, metrics Recorder) *Service {
	return &Service{fetcher: fetcher, store: store, metrics: metrics}
}

// Load fetches the company list once for the session and stores it for later
// filtering. Concurrent loads for one session share a single API call.
func (s *Service) Load(ctx context.Context, sessionID, token string) (Outcome, error) {
	// Other mounts may be waiting on this fetch, so it outlives the caller.
	// The companies client timeout bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	resultCh := s.group.DoChan(sessionID, func() (interface{}, error) {
		start := time.Now()
		list, err := s.fetcher.List(fetchCtx, token)
		if err != nil {
			s.observeFetch(StateError, time.Since(start))
			return nil, err
		}
		if err := s.store.Save(fetchCtx, sessionID, list); err != nil {
			s.observeFetch(StateError, time.Since(start))
			return nil, err
		}
		s.observeFetch(stateFor(list), time.Since(start))
		return list, nil
	})

	select {
	case <-ctx.Done():
		return Outcome{State: StateError}, ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return Outcome{State: StateError}, res.Err
		}
		list, _ := res.Val.([]companies.Company)
		out := Outcome{State: stateFor(list), Companies: list}
		if out.State == StateSingle {
			selected := list[0]
			out.Selected = &selected
			s.observeSelection("auto")
		}
		return out, nil
	}
}

// Visible filters the stored list by term. Filtering never calls the API.
func (s *Service) Visible(ctx context.Context, sessionID, term string) (View, error) {
	list, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	view := View{Cards: make([]Card, 0, len(list)), Total: len(list), Query: term}
	for i, company := range list {
		if companies.Match(company.Name, term) {
			view.Cards = append(view.Cards, Card{Ref: strconv.Itoa(i), Company: company})
		}
	}
	return view, nil
}

// Select resolves a clicked card. name guards against the stored list having
// been replaced by a reload in another tab.
func (s *Service) Select(ctx context.Context, sessionID, ref, name string) (companies.Company, error) {
	list, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return companies.Company{}, err
	}
	idx, err := strconv.Atoi(ref)
	if err != nil || idx < 0 || idx >= len(list) || normalizeLineBreaks(list[idx].Name) != normalizeLineBreaks(name) {
		s.observeSelection("not_found")
		return companies.Company{}, ErrCompanyNotFound
	}
	company := list[idx]
	if !company.IsActive {
		s.observeSelection("inactive")
		return companies.Company{}, ErrCompanyInactive
	}
	s.observeSelection("selected")
	return company, nil
}

// normalizeLineBreaks folds CRLF and CR to LF. Browsers submit form values
// with CRLF line breaks whatever the page carried.
func normalizeLineBreaks(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	return strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(s)
}

func stateFor(list []companies.Company) State {
	if len(list) == 1 {
		return StateSingle
	}
	return StateReady
}

func (s *Service) observeFetch(state State, took time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveFetch(string(state), took)
	}
}

func (s *Service) observeSelection(result string) {
	if s.metrics != nil {
		s.metrics.ObserveSelection(result)
	}
}
