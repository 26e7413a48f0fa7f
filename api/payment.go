package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/smartcare/billing/apperrors"
	"github.com/smartcare/billing/models"
	"github.com/smartcare/billing/services"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func CreatePaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

func (h *PaymentHandler) HandleCreateIntent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	var req models.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := h.paymentService.CreateIntent(r.Context(), userID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// HandleConfirm is the synchronous confirmation path used by clients that
// do not want to wait for the webhook.
func (h *PaymentHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	var body struct {
		GatewayIntentID string `json:"gateway_intent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.GatewayIntentID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	payment, err := h.paymentService.ConfirmPayment(r.Context(), body.GatewayIntentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if payment.UserID != userID {
		writeError(w, apperrors.Forbidden("payment does not belong to user %d", userID))
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *PaymentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}
	paymentID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, apperrors.Validation("invalid payment id"))
		return
	}

	payment, err := h.paymentService.GetPayment(r.Context(), userID, paymentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *PaymentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}
	limit, offset := parsePagination(r)

	payments, err := h.paymentService.ListUserPayments(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.PaymentListResponse{
		Payments: payments,
		Total:    len(payments),
	})
}

func (h *PaymentHandler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	var req models.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	payment, err := h.paymentService.Refund(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *PaymentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/payments/intent", h.HandleCreateIntent).Methods("POST")
	router.HandleFunc("/payments/confirm", h.HandleConfirm).Methods("POST")
	router.HandleFunc("/payments", h.HandleList).Methods("GET")
	router.HandleFunc("/payments/{id}", h.HandleGet).Methods("GET")
	router.HandleFunc("/refunds", h.HandleRefund).Methods("POST")
}
