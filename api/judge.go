package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/KiloProjects/kilorank"
	"github.com/KiloProjects/kilorank/judge"
	"github.com/go-chi/chi/v5"
)

// judgeCallback accepts the result the judge PUTs to callback_url for a single run.
// Unknown runs are acknowledged so the judge stops retrying them.
func (s *API) judgeCallback(w http.ResponseWriter, r *http.Request) {
	subID, err := strconv.Atoi(chi.URLParam(r, "submissionID"))
	if err != nil {
		kilorank.ErrorData(w, "Invalid submission ID", http.StatusBadRequest)
		return
	}
	var result judge.Result
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		kilorank.ErrorData(w, "Invalid JSON input", http.StatusBadRequest)
		return
	}
	if result.Token == "" {
		kilorank.ErrorData(w, "Missing token", http.StatusBadRequest)
		return
	}

	if err := s.ingester.HandleCallback(r.Context(), result.Callback(subID)); err != nil {
		if !errors.Is(err, kilorank.ErrNotFound) {
			kilorank.StatusError(w, err)
			return
		}
		slog.WarnContext(r.Context(), "Dropping judge callback for unknown test case", slog.Int("sub_id", subID), slog.String("token", result.Token), slog.Any("err", err))
	}
	kilorank.ReturnData(w, "OK")
}
