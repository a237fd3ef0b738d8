package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/KiloProjects/kilorank"
	"github.com/KiloProjects/kilorank/internal/config"
	"github.com/go-chi/chi/v5"
)

func (s *API) listFlags(w http.ResponseWriter, r *http.Request) {
	kilorank.ReturnData(w, config.Flags())
}

// updateFlag takes the new value as the raw JSON body, e.g. `120` or `true`.
func (s *API) updateFlag(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil || !json.Valid(body) {
		kilorank.ErrorData(w, "Invalid JSON input", http.StatusBadRequest)
		return
	}
	flag, err := config.SetFlag(r.Context(), chi.URLParam(r, "name"), body)
	if err != nil {
		if errors.Is(err, config.ErrUnknownFlag) {
			kilorank.ErrorData(w, "Flag does not exist", http.StatusNotFound)
			return
		}
		kilorank.StatusError(w, kilorank.WrapError(kilorank.Statusf(http.StatusBadRequest, "%v", err), "Invalid flag value"))
		return
	}
	kilorank.ReturnData(w, flag)
}
