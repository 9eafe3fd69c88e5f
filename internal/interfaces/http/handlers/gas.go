package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sawpanic/eligibility/internal/chain"
)

// Gas handles GET /gas/{chainId}
func (h *Handlers) Gas(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["chainId"]
	chainID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_chain_id", fmt.Sprintf("chain id %q is not an integer", raw))
		return
	}

	gas, err := h.deps.Chains.GasPrice(r.Context(), chainID)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, gas)
	case errors.Is(err, chain.ErrUnsupportedChain):
		h.writeError(w, r, http.StatusNotFound, "unsupported_chain", err.Error())
	case errors.Is(err, chain.ErrMalformedResponse):
		h.writeError(w, r, http.StatusBadGateway, "malformed_response", err.Error())
	default:
		h.writeError(w, r, http.StatusServiceUnavailable, "chain_unavailable", err.Error())
	}
}
