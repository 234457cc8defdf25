package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Acceso-dev/Acceso-x402/internal/facilitator"
)

// handleProtectedResource is a paywalled demo endpoint. Without an
// X-PAYMENT header it answers 402 with a challenge, with one it verifies
// and settles the proof inline and serves the resource on success.
func (s *APIServer) handleProtectedResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	price := s.config.GetConfigWithDefault("demo_price", "$0.01")
	resource := fmt.Sprintf("http://%s%s", r.Host, r.URL.Path)

	desc, err := s.builder.Build(resource, price, "", "Demo protected resource")
	if err != nil {
		s.logger.Error(fmt.Sprintf("Demo requirements build failed: %v", err), "api")
		writeError(w, http.StatusInternalServerError, string(facilitator.KindInternalFault))
		return
	}

	payment := r.Header.Get("X-PAYMENT")
	if payment == "" {
		writeJSON(w, http.StatusPaymentRequired, s.builder.Challenge(desc, "payment required"))
		return
	}

	resp := s.settleProof(r, payment, desc)
	if !resp.Success {
		writeJSON(w, http.StatusPaymentRequired, s.builder.Challenge(desc, resp.Error))
		return
	}

	// Echo the settlement outcome back in the response header.
	if encoded, err := json.Marshal(resp); err == nil {
		w.Header().Set("X-PAYMENT-RESPONSE", base64.StdEncoding.EncodeToString(encoded))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "premium content unlocked",
		"txHash":   resp.TxHash,
		"servedAt": time.Now().UTC(),
	})
}
