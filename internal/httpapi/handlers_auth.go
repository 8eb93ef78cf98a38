package httpapi

import (
	"log/slog"
	"net/http"

	"bilancio/internal/log"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, token, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "User logged in", log.FieldUserID, user.ID)
	respondJSON(w, r, http.StatusOK, loginResponse{
		Token: token,
		User:  toUserDTO(user),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, toUserDTO(currentUser(r.Context())))
}
