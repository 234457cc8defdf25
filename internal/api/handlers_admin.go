package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/Acceso-dev/Acceso-x402/internal/facilitator"
)

// handleAdminSettlements lists persisted settlement records, falling back
// to the in-memory ledger when persistence is disabled.
func (s *APIServer) handleAdminSettlements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := r.URL.Query().Get("status")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	if s.dbManager == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"settlements": s.snapshotLedger(status),
			"source":      "memory",
		})
		return
	}

	records, err := s.dbManager.Settlements.List(status, limit, offset)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to list settlements: %v", err), "api")
		writeError(w, http.StatusInternalServerError, "failed to list settlements")
		return
	}
	if records == nil {
		records = []*facilitator.SettlementRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"settlements": records,
		"source":      "database",
	})
}

// handleAdminSettlementStats returns per-status settlement counts.
func (s *APIServer) handleAdminSettlementStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.dbManager == nil {
		counts := make(map[string]int)
		for _, rec := range s.snapshotLedger("") {
			counts[string(rec.Status)]++
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"counts": counts, "source": "memory"})
		return
	}

	counts, err := s.dbManager.Settlements.CountByStatus()
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to count settlements: %v", err), "api")
		writeError(w, http.StatusInternalServerError, "failed to count settlements")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counts": counts, "source": "database", "subscribers": s.hub.ClientCount()})
}

func (s *APIServer) snapshotLedger(status string) []*facilitator.SettlementRecord {
	all := s.settler.Ledger().Snapshot()
	if status == "" {
		return all
	}
	filtered := make([]*facilitator.SettlementRecord, 0, len(all))
	for _, rec := range all {
		if string(rec.Status) == status {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}
