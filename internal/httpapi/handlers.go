package httpapi

import (
	"net/http"
	"strings"
	"time"

	"varejo/backend/internal/domain"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errTooManyLogins)
		return
	}

	var req domain.LoginRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := a.decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.LowStock(r.Context())
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := a.decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := a.decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	quote, err := a.service.Quote(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := a.decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	resp, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)

	orders, err := a.service.ListOrders(r.Context(), status, limit)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	detail, err := a.service.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := a.service.BuildReceipt(r.Context(), r.PathValue("id"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (a *API) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.CancelOrderRequest
	if err := a.decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	if !a.checkManagerPIN(w, r, "cancel", req.ManagerPIN) {
		return
	}

	order, err := a.service.CancelOrder(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleRemoveOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.RemoveOrderRequest
	if err := a.decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	if !a.checkManagerPIN(w, r, "remove", req.ManagerPIN) {
		return
	}

	if err := a.service.RemoveOrder(r.Context(), r.PathValue("id")); err != nil {
		a.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if err := a.decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	if !a.checkManagerPIN(w, r, "return", req.ManagerPIN) {
		return
	}

	resp, err := a.service.RecordReturn(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	var req domain.MovementRequest
	if err := a.decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	result, err := a.service.RecordMovement(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleListMovements(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(r.URL.Query().Get("product_id"))
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)

	movements, err := a.service.ListMovements(r.Context(), productID, limit)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleCheckStock(w http.ResponseWriter, r *http.Request) {
	check, err := a.service.CheckStock(r.Context(), r.PathValue("product_id"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (a *API) handleReceivePurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseReceiptRequest
	if err := a.decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	receipt, err := a.service.ReceivePurchase(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"receipt": receipt})
}

func (a *API) handleListPurchaseReceipts(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)
	receipts, err := a.service.ListPurchaseReceipts(r.Context(), limit)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
