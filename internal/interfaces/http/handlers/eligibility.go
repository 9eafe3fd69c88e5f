package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/eligibility/internal/domain"
	"github.com/sawpanic/eligibility/internal/eligibility"
	httpContracts "github.com/sawpanic/eligibility/internal/http"
)

const maxCheckBody = 1 << 16

// Check handles POST /eligibility/check
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req httpContracts.CheckRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_body", "Request body must be JSON with an address field")
		return
	}

	report, err := h.deps.Engine.Evaluate(r.Context(), req.Address, req.Chains)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, httpContracts.CheckResponse{Report: report})

	case errors.Is(err, domain.ErrInvalidAddress), errors.Is(err, domain.ErrBadChecksum):
		h.writeError(w, r, http.StatusBadRequest, "invalid_address", err.Error())

	case errors.Is(err, eligibility.ErrTotalFailure):
		h.writeJSON(w, http.StatusBadGateway, httpContracts.CheckResponse{Report: report, Error: err.Error()})

	default:
		log.Error().Err(err).Str("address", req.Address).Msg("Eligibility check failed")
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", "Evaluation failed")
	}
}
