package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bilancio/internal/core"
)

// Cache keys are namespaced "user:<id>:" so invalidateUser can drop all
// of a user's cached views with one prefix delete.

func summaryCacheKey(userID int64, p core.Period) string {
	return fmt.Sprintf("user:%d:summary:%s", userID, p)
}

func liquidityCacheKey(userID int64, year int, household bool) string {
	return fmt.Sprintf("user:%d:liquidity:%d:%t", userID, year, household)
}

// invalidateUser drops every cached view for the user. Called after any
// mutation so dashboards never serve figures older than the write.
func (s *Server) invalidateUser(userID int64) {
	prefix := fmt.Sprintf("user:%d:", userID)
	s.summaryCache.DeletePrefix(prefix)
	s.liquidityCache.DeletePrefix(prefix)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	year, month := parseYearMonth(r)
	period := core.Period{Year: year, Month: month}

	key := summaryCacheKey(user.ID, period)
	if sum, ok := s.summaryCache.Get(key); ok {
		respondJSON(w, r, http.StatusOK, toSummaryDTO(sum))
		return
	}

	sum, err := s.ledger.PeriodSummary(r.Context(), user.ID, period)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	s.summaryCache.Set(key, sum)
	respondJSON(w, r, http.StatusOK, toSummaryDTO(sum))
}

func (s *Server) handleLiquidity(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	year := time.Now().Year()
	if v := strings.TrimSpace(r.URL.Query().Get("year")); v != "" {
		if y, err := strconv.Atoi(v); err == nil {
			year = y
		}
	}

	household := false
	switch strings.ToLower(r.URL.Query().Get("household")) {
	case "1", "true", "yes":
		household = true
	}
	if household && user.Role != core.RoleAdmin && user.Role != core.RoleSuperadmin {
		respondError(w, r, http.StatusForbidden, "household scope requires admin role")
		return
	}

	key := liquidityCacheKey(user.ID, year, household)
	if entries, ok := s.liquidityCache.Get(key); ok {
		respondJSON(w, r, http.StatusOK, toLiquidityDTOs(entries))
		return
	}

	entries, err := s.ledger.LiquidityByMonth(r.Context(), user.ID, year, household)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	s.liquidityCache.Set(key, entries)
	respondJSON(w, r, http.StatusOK, toLiquidityDTOs(entries))
}
