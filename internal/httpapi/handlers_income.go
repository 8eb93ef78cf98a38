package httpapi

import (
	"net/http"

	"bilancio/internal/core"
)

func (s *Server) handleListIncomes(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	year, month := parseYearMonth(r)

	incomes, err := s.ledger.ListIncomes(r.Context(), user.ID, core.Period{Year: year, Month: month})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, toIncomeDTOs(incomes))
}

func (s *Server) handleAddIncome(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	var req incomeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	income, err := req.domain(user.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	created, err := s.ledger.AddIncome(r.Context(), income)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	s.invalidateUser(user.ID)
	respondJSON(w, r, http.StatusCreated, toIncomeDTO(created))
}

func (s *Server) handleUpdateIncome(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req incomeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	income, err := req.domain(user.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	income.ID = id

	updated, err := s.ledger.UpdateIncome(r.Context(), income)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	s.invalidateUser(user.ID)
	respondJSON(w, r, http.StatusOK, toIncomeDTO(updated))
}

func (s *Server) handleDeleteIncome(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := s.ledger.DeleteIncome(r.Context(), user.ID, id); err != nil {
		respondServiceError(w, r, err)
		return
	}

	s.invalidateUser(user.ID)
	w.WriteHeader(http.StatusNoContent)
}
