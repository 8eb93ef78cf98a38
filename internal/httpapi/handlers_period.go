package httpapi

import (
	"net/http"

	"bilancio/internal/core"
)

func (s *Server) handleCopyPeriod(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	var req copyPeriodRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	from := core.Period{Year: req.FromYear, Month: req.FromMonth}
	to := core.Period{Year: req.ToYear, Month: req.ToMonth}

	copied, err := s.ledger.CopyPeriod(r.Context(), user.ID, from, to)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	s.invalidateUser(user.ID)
	respondJSON(w, r, http.StatusOK, copyPeriodResponse{Copied: copied})
}
