package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	app "github.com/referralpay/commission_engine/internal/app"
	"github.com/referralpay/commission_engine/internal/app/domain/allocation"
	"github.com/referralpay/commission_engine/internal/app/domain/commission"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/distributions", h.distributions)
	mux.HandleFunc("/distributions/", h.distributionResource)
	mux.HandleFunc("/recipients", h.recipients)
	mux.HandleFunc("/recipients/", h.recipientResources)
	mux.HandleFunc("/allocator/", h.allocator)
	mux.HandleFunc("/healthz", h.health)
	return mux
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) distributions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Volume     int64     `json:"volume"`
			Recipients []string  `json:"recipients"`
			Weights    []float64 `json:"weights"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		recipients := make([]commission.Recipient, len(payload.Recipients))
		for i, raw := range payload.Recipients {
			recipients[i] = commission.Recipient(strings.TrimSpace(raw))
		}

		weights := allocation.WeightVector(payload.Weights)
		if len(weights) == 0 {
			// No explicit split requested; use the optimizer's current
			// vector.
			weights = h.app.Allocator.Weights()
		}

		dist, err := h.app.Ledger.Distribute(r.Context(), payload.Volume, recipients, weights)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, dist)

	case http.MethodGet:
		records, err := h.app.Ledger.Records(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, records)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) distributionResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/distributions"), "/")
	sequence, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid sequence %q", raw))
		return
	}

	record, err := h.app.Ledger.Record(r.Context(), sequence)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *handler) recipients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entries, err := h.app.Ledger.Entries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) recipientResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/recipients"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	recipient := commission.Recipient(parts[0])

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		entry, err := h.app.Ledger.Entry(r.Context(), recipient)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
		return
	}

	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "balance":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		balance, err := h.app.Ledger.Balance(r.Context(), recipient)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"recipient": recipient,
			"balance":   balance,
		})

	case "withdrawals":
		switch r.Method {
		case http.MethodPost:
			payout, err := h.app.Ledger.Withdraw(r.Context(), recipient)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payout)
		case http.MethodGet:
			payouts, err := h.app.Ledger.Payouts(r.Context(), recipient)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, payouts)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	case "records":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		records, err := h.app.Ledger.RecordsFor(r.Context(), recipient)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, records)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) allocator(w http.ResponseWriter, r *http.Request) {
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/allocator"), "/")

	switch action {
	case "step":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		result, err := h.app.Allocator.Step(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case "run":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Episodes int `json:"episodes"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		results, err := h.app.Allocator.Run(r.Context(), payload.Episodes)
		if err != nil {
			// A truncated run is an error even when some steps completed;
			// returning the partial slice as a success would hide it.
			status := http.StatusBadRequest
			if len(results) > 0 {
				status = http.StatusInternalServerError
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, results)

	case "weights":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"weights": h.app.Allocator.Weights(),
			"reward":  h.app.Allocator.Reward(),
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// writeDomainError maps ledger sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, commission.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, commission.ErrNothingToWithdraw):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, commission.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
