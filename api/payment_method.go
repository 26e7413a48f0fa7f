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

type PaymentMethodHandler struct {
	methodService *services.PaymentMethodService
}

func CreatePaymentMethodHandler(methodService *services.PaymentMethodService) *PaymentMethodHandler {
	return &PaymentMethodHandler{
		methodService: methodService,
	}
}

func (h *PaymentMethodHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	var req models.AddPaymentMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	method, err := h.methodService.AddPaymentMethod(r.Context(), userID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, method)
}

func (h *PaymentMethodHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	methods, err := h.methodService.ListPaymentMethods(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.PaymentMethodListResponse{
		PaymentMethods: methods,
		Total:          len(methods),
	})
}

func (h *PaymentMethodHandler) HandleSetDefault(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}
	methodID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, apperrors.Validation("invalid payment method id"))
		return
	}

	method, err := h.methodService.SetDefaultPaymentMethod(r.Context(), userID, methodID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, method)
}

func (h *PaymentMethodHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}
	methodID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, apperrors.Validation("invalid payment method id"))
		return
	}

	if err := h.methodService.RemovePaymentMethod(r.Context(), userID, methodID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PaymentMethodHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/payment-methods", h.HandleAdd).Methods("POST")
	router.HandleFunc("/payment-methods", h.HandleList).Methods("GET")
	router.HandleFunc("/payment-methods/{id}/default", h.HandleSetDefault).Methods("PUT")
	router.HandleFunc("/payment-methods/{id}", h.HandleRemove).Methods("DELETE")
}
