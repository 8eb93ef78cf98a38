package httpapi

import (
	"log/slog"
	"net/http"

	"bilancio/internal/core"
	"bilancio/internal/log"
)

func (s *Server) handleCreateHousehold(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	var req householdRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	household, err := s.ledger.CreateHousehold(r.Context(), caller, req.Name)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "Household created",
		log.FieldUserID, caller.ID,
		"household_id", household.ID)
	respondJSON(w, r, http.StatusCreated, householdDTO{ID: household.ID, Name: household.Name})
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	members, err := s.ledger.ListMembers(r.Context(), caller)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, toUserDTOs(members))
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = string(core.RoleMember)
	}

	// Admins stay inside their own household and can only mint members;
	// superadmins place anyone anywhere.
	householdID := req.HouseholdID
	if caller.Role != core.RoleSuperadmin {
		if req.Role != string(core.RoleMember) {
			respondError(w, r, http.StatusForbidden, "admins may only create members")
			return
		}
		if householdID != nil && (caller.HouseholdID == nil || *householdID != *caller.HouseholdID) {
			respondError(w, r, http.StatusForbidden, "admins may only create users in their own household")
			return
		}
		householdID = caller.HouseholdID
	}

	user := core.User{
		HouseholdID: householdID,
		Email:       req.Email,
		FullName:    req.FullName,
		Role:        core.Role(req.Role),
		IsActive:    true,
	}

	created, err := s.ledger.CreateUser(r.Context(), user, req.Password)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "User created",
		log.FieldUserID, caller.ID,
		"created_user_id", created.ID,
		"role", string(created.Role))
	respondJSON(w, r, http.StatusCreated, toUserDTO(created))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	target, err := s.ledger.GetUser(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if caller.Role != core.RoleSuperadmin {
		sameHousehold := caller.HouseholdID != nil && target.HouseholdID != nil &&
			*caller.HouseholdID == *target.HouseholdID
		if !sameHousehold {
			respondError(w, r, http.StatusForbidden, "user is outside your household")
			return
		}
	}

	if err := s.ledger.DeleteUser(r.Context(), caller.ID, id); err != nil {
		respondServiceError(w, r, err)
		return
	}

	s.invalidateUser(id)
	slog.InfoContext(r.Context(), "User deleted",
		log.FieldUserID, caller.ID,
		"deleted_user_id", id)
	w.WriteHeader(http.StatusNoContent)
}
