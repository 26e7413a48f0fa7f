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

type InvoiceHandler struct {
	invoiceService *services.InvoiceService
}

func CreateInvoiceHandler(invoiceService *services.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{
		invoiceService: invoiceService,
	}
}

func (h *InvoiceHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	var req models.CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}
	req.UserID = userID

	invoice, err := h.invoiceService.CreateInvoice(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, models.InvoiceResponse{Invoice: invoice})
}

func (h *InvoiceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}
	invoiceID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, apperrors.Validation("invalid invoice id"))
		return
	}

	resp, err := h.invoiceService.GetInvoice(r.Context(), userID, invoiceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *InvoiceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}
	limit, offset := parsePagination(r)

	invoices, err := h.invoiceService.ListUserInvoices(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.InvoiceListResponse{
		Invoices: invoices,
		Total:    len(invoices),
	})
}

func (h *InvoiceHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}
	invoiceID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, apperrors.Validation("invalid invoice id"))
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.Reason == "" {
		body.Reason = "cancelled by user"
	}

	if err := h.invoiceService.Cancel(r.Context(), userID, invoiceID, body.Reason); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.invoiceService.GetInvoice(r.Context(), userID, invoiceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *InvoiceHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/invoices", h.HandleCreate).Methods("POST")
	router.HandleFunc("/invoices", h.HandleList).Methods("GET")
	router.HandleFunc("/invoices/{id}", h.HandleGet).Methods("GET")
	router.HandleFunc("/invoices/{id}/cancel", h.HandleCancel).Methods("POST")
}
