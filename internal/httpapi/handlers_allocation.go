package httpapi

import (
	"net/http"

	"bilancio/internal/core"
)

func (s *Server) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	year, month := parseYearMonth(r)

	allocations, err := s.ledger.ListAllocations(r.Context(), user.ID, core.Period{Year: year, Month: month})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, toAllocationDTOs(allocations))
}

func (s *Server) handleAddAllocation(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	var req allocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	allocation, err := req.domain(user.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	created, err := s.ledger.AddAllocation(r.Context(), allocation)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	s.invalidateUser(user.ID)
	respondJSON(w, r, http.StatusCreated, toAllocationDTO(created))
}

func (s *Server) handleUpdateAllocation(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req allocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	allocation, err := req.domain(user.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	allocation.ID = id

	updated, err := s.ledger.UpdateAllocation(r.Context(), allocation)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	s.invalidateUser(user.ID)
	respondJSON(w, r, http.StatusOK, toAllocationDTO(updated))
}

func (s *Server) handleDeleteAllocation(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := s.ledger.DeleteAllocation(r.Context(), user.ID, id); err != nil {
		respondServiceError(w, r, err)
		return
	}

	s.invalidateUser(user.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	year, month := parseYearMonth(r)

	categories, err := s.ledger.GetCategories(r.Context(), user.ID, core.Period{Year: year, Month: month})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if categories == nil {
		categories = []string{}
	}
	respondJSON(w, r, http.StatusOK, categories)
}
