package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/money"
	"github.com/richardliu001/wallet-ledger/internal/service"
)

const idempotencyHeader = "Idempotency-Key"

// statusClientClosedRequest is nginx's code for a caller that hung up.
const statusClientClosedRequest = 499

type handler struct {
	svc *service.WalletService
}

func registerHandlers(r *gin.Engine, h *handler) {
	v1 := r.Group("/api/v1")
	{
		v1.POST("/wallets", h.createWallet)
		v1.GET("/wallets/:id", h.getWallet)
		v1.POST("/wallets/:id/operation", h.performOperation)
		v1.GET("/wallets/:id/transactions", h.listTransactions)
	}
}

type walletResponse struct {
	ID        uuid.UUID `json:"id"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toWalletResponse(w *model.Wallet) walletResponse {
	return walletResponse{ID: w.ID, Balance: money.Format(w.Balance), CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt}
}

type transactionResponse struct {
	ID            uuid.UUID `json:"id"`
	WalletID      uuid.UUID `json:"wallet_id"`
	OperationType string    `json:"operation_type"`
	Amount        string    `json:"amount"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

func toTransactionResponse(t *model.Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		WalletID:      t.WalletID,
		OperationType: string(t.OperationType),
		Amount:        money.Format(t.Amount),
		Status:        string(t.Status),
		CreatedAt:     t.CreatedAt,
	}
}

type operationReq struct {
	OperationType string      `json:"operation_type" binding:"required"`
	Amount        json.Number `json:"amount" binding:"required"`
}

func (h *handler) createWallet(c *gin.Context) {
	w, err := h.svc.CreateWallet(c.Request.Context())
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, toWalletResponse(w))
}

func (h *handler) getWallet(c *gin.Context) {
	id, ok := walletID(c)
	if !ok {
		return
	}
	w, err := h.svc.GetWallet(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, toWalletResponse(w))
}

func (h *handler) performOperation(c *gin.Context) {
	id, ok := walletID(c)
	if !ok {
		return
	}
	var req operationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "VALIDATION_ERROR"})
		return
	}
	txn, err := h.svc.PerformOperation(c.Request.Context(), service.OperationRequest{
		WalletID:       id,
		OperationType:  req.OperationType,
		Amount:         req.Amount.String(),
		IdempotencyKey: c.GetHeader(idempotencyHeader),
	})
	if err != nil {
		writeError(c, err, txn)
		return
	}
	c.JSON(http.StatusOK, toTransactionResponse(txn))
}

func (h *handler) listTransactions(c *gin.Context) {
	id, ok := walletID(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(service.DefaultHistoryLimit)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid limit", "code": "VALIDATION_ERROR"})
		return
	}
	var since time.Time
	if s := c.Query("since"); s != "" {
		since, err = time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid since", "code": "VALIDATION_ERROR"})
			return
		}
	}
	txs, err := h.svc.ListTransactions(c.Request.Context(), id, limit, since.UTC())
	if err != nil {
		writeError(c, err, nil)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for i := range txs {
		out = append(out, toTransactionResponse(&txs[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) health(c *gin.Context) {
	if err := h.svc.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func walletID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid wallet id", "code": "VALIDATION_ERROR"})
		return uuid.Nil, false
	}
	return id, true
}

// statusFor maps the service taxonomy onto HTTP: request faults are 4xx,
// system faults 5xx.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrAmountOutOfRange),
		errors.Is(err, service.ErrInvalidOperation),
		errors.Is(err, service.ErrInvalidIdempotencyKey):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrRequestCanceled):
		return statusClientClosedRequest
	case errors.Is(err, service.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error, txn *model.Transaction) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = service.ErrInternal.Message
	}
	body := gin.H{"error": msg, "code": service.Code(err)}
	if txn != nil {
		body["transaction"] = toTransactionResponse(txn)
	}
	c.JSON(status, body)
}
