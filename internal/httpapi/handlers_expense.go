package httpapi

import (
	"net/http"

	"bilancio/internal/core"
)

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	year, month := parseYearMonth(r)

	expenses, err := s.ledger.ListExpenses(r.Context(), user.ID, core.Period{Year: year, Month: month})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, toExpenseDTOs(expenses))
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	var req expenseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	expense, err := req.domain(user.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	created, err := s.ledger.AddExpense(r.Context(), expense)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	s.invalidateUser(user.ID)
	respondJSON(w, r, http.StatusCreated, toExpenseDTO(created))
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req expenseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	expense, err := req.domain(user.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	expense.ID = id

	updated, err := s.ledger.UpdateExpense(r.Context(), expense)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	s.invalidateUser(user.ID)
	respondJSON(w, r, http.StatusOK, toExpenseDTO(updated))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := s.ledger.DeleteExpense(r.Context(), user.ID, id); err != nil {
		respondServiceError(w, r, err)
		return
	}

	s.invalidateUser(user.ID)
	w.WriteHeader(http.StatusNoContent)
}
