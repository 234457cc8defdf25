package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Acceso-dev/Acceso-x402/internal/facilitator"
)

// handleRequirements builds a fresh payment requirements descriptor wrapped
// in the 402 challenge envelope.
func (s *APIServer) handleRequirements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req facilitator.RequirementsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Resource == "" || req.Amount == "" {
		writeError(w, http.StatusBadRequest, "resource and amount are required")
		return
	}

	desc, err := s.builder.Build(req.Resource, req.Amount, req.PayTo, req.Description)
	if err != nil {
		if errors.Is(err, facilitator.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error(fmt.Sprintf("Requirements build failed: %v", err), "api")
		writeError(w, http.StatusInternalServerError, string(facilitator.KindInternalFault))
		return
	}

	writeJSON(w, http.StatusOK, s.builder.Challenge(desc, ""))
}

// handleVerify structurally checks a payment proof without settling it.
func (s *APIServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req facilitator.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	proof, err := facilitator.DecodeProof(req.Payment)
	if err != nil {
		writeJSON(w, http.StatusOK, facilitator.VerifyResponse{
			IsValid: false,
			Reason:  string(facilitator.KindMalformedProof),
		})
		return
	}

	vres, err := s.verifier.Verify(r.Context(), proof, &req.Requirements)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Verification infrastructure failure: %v", err), "api")
		writeError(w, http.StatusServiceUnavailable, string(facilitator.KindNetworkTransient))
		return
	}

	resp := facilitator.VerifyResponse{IsValid: vres.Valid}
	if !vres.Valid {
		resp.Reason = string(vres.Reason)
	} else {
		resp.Payer = vres.Payer.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSettle verifies a proof and drives it to a terminal settlement
// outcome. Verification failures never reach the network.
func (s *APIServer) handleSettle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req facilitator.SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp := s.settleProof(r, req.Payment, &req.Requirements)
	writeJSON(w, http.StatusOK, resp)
}

// settleProof runs decode, verify, and settle. Shared by the settle
// endpoint and the demo paywall.
func (s *APIServer) settleProof(r *http.Request, payment string, requirements *facilitator.PaymentRequirements) *facilitator.SettleResponse {
	proof, err := facilitator.DecodeProof(payment)
	if err != nil {
		return &facilitator.SettleResponse{Success: false, Error: string(facilitator.KindMalformedProof)}
	}

	vres, err := s.verifier.Verify(r.Context(), proof, requirements)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Verification infrastructure failure: %v", err), "api")
		return &facilitator.SettleResponse{Success: false, Error: string(facilitator.KindNetworkTransient)}
	}
	if !vres.Valid {
		resp := &facilitator.SettleResponse{Success: false, Error: string(vres.Reason)}
		if !vres.Payer.IsZero() {
			resp.Payer = vres.Payer.String()
		}
		return resp
	}

	rec, err := s.settler.Settle(r.Context(), proof, requirements, vres)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Settlement failed for %s: %v", proof.Fingerprint, err), "api")
		return &facilitator.SettleResponse{Success: false, Error: string(facilitator.KindInternalFault)}
	}

	if rec.Status == facilitator.StatusConfirmed {
		return &facilitator.SettleResponse{Success: true, TxHash: rec.TxSignature, Payer: rec.Payer}
	}
	return &facilitator.SettleResponse{Success: false, Error: string(rec.ErrorKind), Payer: rec.Payer}
}

// handleSupported advertises schemes and networks.
func (s *APIServer) handleSupported(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, facilitator.SupportedResponse{
		Schemes:  []string{facilitator.SchemeExact},
		Networks: s.registry.Networks(),
	})
}

// handleFeePayer returns the facilitator's public signing address. The
// private key never leaves the signer.
func (s *APIServer) handleFeePayer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, facilitator.FeePayerResponse{
		Address: s.signer.PublicKey().String(),
	})
}
