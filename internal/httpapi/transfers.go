package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"saboracampo/backend/internal/domain"
)

func (a *API) handleTransfers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := domain.TransferListFilter{
			State:    domain.TransferState(strings.TrimSpace(r.URL.Query().Get("state"))),
			BranchID: strings.TrimSpace(r.URL.Query().Get("branch_id")),
			ItemID:   strings.TrimSpace(r.URL.Query().Get("item_id")),
		}
		if from := strings.TrimSpace(r.URL.Query().Get("from")); from != "" {
			parsed, err := time.Parse("2006-01-02", from)
			if err != nil {
				writeError(w, http.StatusBadRequest, "validation", errors.New("invalid from date"))
				return
			}
			filter.From = parsed.UTC()
		}
		if to := strings.TrimSpace(r.URL.Query().Get("to")); to != "" {
			parsed, err := time.Parse("2006-01-02", to)
			if err != nil {
				writeError(w, http.StatusBadRequest, "validation", errors.New("invalid to date"))
				return
			}
			filter.To = parsed.UTC().Add(24 * time.Hour)
		}

		transfers, err := a.service.ListTransfers(r.Context(), filter)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers})
	case http.MethodPost:
		var req domain.TransferCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "validation", err)
			return
		}

		transfer, err := a.service.CreateTransfer(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"transfer": transfer})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleTransferActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/transfers/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeError(w, http.StatusBadRequest, "validation", errors.New("invalid transfer path"))
		return
	}

	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, "validation", errors.New("transfer id required"))
		return
	}

	transferID, action, _ := strings.Cut(tail, "/")
	if transferID == "" {
		writeError(w, http.StatusBadRequest, "validation", errors.New("transfer id required"))
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		transfer, err := a.service.GetTransfer(r.Context(), transferID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transfer": transfer})
	case "approve":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		transfer, err := a.service.ApproveTransfer(r.Context(), transferID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transfer": transfer})
	case "cancel":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.TransferCancelRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "validation", err)
			return
		}
		transfer, err := a.service.CancelTransfer(r.Context(), transferID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transfer": transfer})
	default:
		writeError(w, http.StatusNotFound, "not_found", errors.New("unknown transfer action"))
	}
}
