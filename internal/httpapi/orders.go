package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"saboracampo/backend/internal/domain"
)

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := domain.OrderListFilter{
			State:    domain.OrderState(strings.TrimSpace(r.URL.Query().Get("state"))),
			SellerID: strings.TrimSpace(r.URL.Query().Get("seller_id")),
			BranchID: strings.TrimSpace(r.URL.Query().Get("branch_id")),
		}
		orders, err := a.service.ListOrders(r.Context(), filter)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
	case http.MethodPost:
		var req domain.OrderCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "validation", err)
			return
		}

		order, err := a.service.CreateOrder(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"order": order})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleOrderActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/orders/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeError(w, http.StatusBadRequest, "validation", errors.New("invalid order path"))
		return
	}

	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, "validation", errors.New("order id required"))
		return
	}

	orderID, action, _ := strings.Cut(tail, "/")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "validation", errors.New("order id required"))
		return
	}

	switch action {
	case "":
		a.handleOrderByID(w, r, orderID)
	case "items":
		a.handleOrderItems(w, r, orderID)
	case "close":
		a.handleOrderTransition(w, r, orderID, a.closeOrder)
	case "reopen":
		a.handleOrderTransition(w, r, orderID, a.reopenOrder)
	case "complete":
		a.handleOrderComplete(w, r, orderID)
	case "cancel":
		a.handleOrderCancel(w, r, orderID)
	case "branch":
		a.handleOrderBranch(w, r, orderID)
	default:
		writeError(w, http.StatusNotFound, "not_found", errors.New("unknown order action"))
	}
}

func (a *API) handleOrderByID(w http.ResponseWriter, r *http.Request, orderID string) {
	switch r.Method {
	case http.MethodGet:
		order, err := a.service.GetOrder(r.Context(), orderID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order})
	case http.MethodDelete:
		if err := a.service.DeleteOrder(r.Context(), orderID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleOrderItems(w http.ResponseWriter, r *http.Request, orderID string) {
	switch r.Method {
	case http.MethodPost:
		var req domain.AddLineItemRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "validation", err)
			return
		}
		order, err := a.service.AddLineItem(r.Context(), orderID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order})
	case http.MethodPatch:
		var req domain.SetLineItemQuantityRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "validation", err)
			return
		}
		order, err := a.service.SetLineItemQuantity(r.Context(), orderID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order})
	case http.MethodDelete:
		var req domain.RemoveLineItemRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "validation", err)
			return
		}
		order, err := a.service.RemoveLineItem(r.Context(), orderID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) closeOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	order, err := a.service.CloseOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) reopenOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	order, err := a.service.ReopenOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleOrderTransition(w http.ResponseWriter, r *http.Request, orderID string, apply func(http.ResponseWriter, *http.Request, string)) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	apply(w, r, orderID)
}

func (a *API) handleOrderComplete(w http.ResponseWriter, r *http.Request, orderID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CompleteOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err)
		return
	}

	order, err := a.service.CompleteOrder(r.Context(), orderID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleOrderCancel(w http.ResponseWriter, r *http.Request, orderID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CancelOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err)
		return
	}

	order, err := a.service.CancelOrder(r.Context(), orderID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleOrderBranch(w http.ResponseWriter, r *http.Request, orderID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ReassignBranchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err)
		return
	}

	order, err := a.service.ReassignBranch(r.Context(), orderID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}
