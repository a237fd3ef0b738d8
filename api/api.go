// Package api is the operator HTTP surface: live leaderboards, manual finalization and the judge callback endpoint.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/KiloProjects/kilorank"
	"github.com/KiloProjects/kilorank/finalizer"
	"github.com/KiloProjects/kilorank/grader"
	"github.com/KiloProjects/kilorank/leaderboard"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/riandyrn/otelchi"
)

type Store interface {
	leaderboard.Source

	Ping(ctx context.Context) error
	Contest(ctx context.Context, id int) (*kilorank.Contest, error)
}

type API struct {
	store     Store
	board     *leaderboard.Cache
	finalizer *finalizer.Finalizer
	ingester  *grader.Ingester
}

// New declares a new API instance
func New(store Store, board *leaderboard.Cache, fin *finalizer.Finalizer, ingester *grader.Ingester) *API {
	return &API{store: store, board: board, finalizer: fin, ingester: ingester}
}

func (s *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(otelchi.Middleware("kilorank", otelchi.WithChiRoutes(r)))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Put("/judge/callback/{submissionID}", s.judgeCallback)
		r.Get("/flags", s.listFlags)
		r.Put("/flags/{name}", s.updateFlag)

		r.Route("/contests/{contestID}", func(r chi.Router) {
			r.Use(s.validateContestID)
			r.Get("/leaderboard", s.leaderboard)
			r.Get("/users/{userID}", s.userRanking)
			r.Post("/finalize", s.finalizeContest)
			r.Post("/rebuild", s.rebuildLeaderboard)
		})
	})
	return r
}

type ctxKey string

const contestKey = ctxKey("contest")

func (s *API) validateContestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contestID, err := strconv.Atoi(chi.URLParam(r, "contestID"))
		if err != nil {
			kilorank.ErrorData(w, "Invalid contest ID", http.StatusBadRequest)
			return
		}
		contest, err := s.store.Contest(r.Context(), contestID)
		if err != nil {
			kilorank.StatusError(w, err)
			return
		}
		if contest == nil {
			kilorank.ErrorData(w, "Contest does not exist", http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contestKey, contest)))
	})
}

func contestFrom(r *http.Request) *kilorank.Contest {
	c, _ := r.Context().Value(contestKey).(*kilorank.Contest)
	return c
}

func (s *API) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		kilorank.ErrorData(w, "Database unreachable", http.StatusServiceUnavailable)
		return
	}
	kilorank.ReturnData(w, "OK")
}
