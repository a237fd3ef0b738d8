package api

import (
	"net/http"
	"strconv"

	"github.com/KiloProjects/kilorank"
	"github.com/go-chi/chi/v5"
)

func (s *API) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := -1
	if v := r.FormValue("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			kilorank.ErrorData(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	contest := contestFrom(r)
	entries, err := s.board.Leaderboard(r.Context(), contest.ID, limit)
	if err != nil {
		kilorank.StatusError(w, err)
		return
	}
	total, err := s.board.Count(r.Context(), contest.ID)
	if err != nil {
		kilorank.StatusError(w, err)
		return
	}
	kilorank.ReturnData(w, struct {
		ContestID int                         `json:"contest_id"`
		Total     int                         `json:"total_participants"`
		Entries   []kilorank.LeaderboardEntry `json:"entries"`
	}{contest.ID, total, entries})
}

func (s *API) userRanking(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil {
		kilorank.ErrorData(w, "Invalid user ID", http.StatusBadRequest)
		return
	}
	ranking, err := s.board.UserRanking(r.Context(), contestFrom(r).ID, userID)
	if err != nil {
		kilorank.StatusError(w, err)
		return
	}
	kilorank.ReturnData(w, ranking)
}

func (s *API) finalizeContest(w http.ResponseWriter, r *http.Request) {
	if err := s.finalizer.FinalizeContest(r.Context(), contestFrom(r).ID); err != nil {
		kilorank.StatusError(w, err)
		return
	}
	kilorank.ReturnData(w, "Finalized contest")
}

func (s *API) rebuildLeaderboard(w http.ResponseWriter, r *http.Request) {
	if err := s.board.Rebuild(r.Context(), s.store, contestFrom(r).ID); err != nil {
		kilorank.StatusError(w, kilorank.WrapError(err, "Couldn't rebuild leaderboard"))
		return
	}
	kilorank.ReturnData(w, "Rebuilt leaderboard")
}
