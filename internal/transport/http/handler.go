package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/gamestore-wallet/internal/model"
	"github.com/richardliu001/gamestore-wallet/internal/repo"
	"github.com/richardliu001/gamestore-wallet/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IdempotencyHeader carries the top-up request id when the body omits it.
const IdempotencyHeader = "Idempotency-Key"

// WalletAPI is the service surface the handlers need.
type WalletAPI interface {
	GetBalance(ctx context.Context, userID string) (model.WalletSnapshot, error)
	TopUp(ctx context.Context, userID string, amt decimal.Decimal, requestID string) (decimal.Decimal, error)
	Withdraw(ctx context.Context, userID string, amt decimal.Decimal) (decimal.Decimal, error)
	Purchase(ctx context.Context, req service.PurchaseRequest) (decimal.Decimal, error)
	Checkout(ctx context.Context, userID string, items []service.CheckoutItem) (*service.CheckoutResult, error)
	ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error)
	ListAllTransactions(ctx context.Context) ([]model.TransactionView, error)
	Library(ctx context.Context, userID string) ([]service.LibraryEntry, error)
	TopGames(ctx context.Context, limit int) ([]model.GameSales, error)
}

func RegisterHandlers(r *gin.Engine, svc WalletAPI, log *zap.SugaredLogger) {
	h := &handler{svc: svc, log: log}
	v1 := r.Group("/v1")
	{
		v1.GET("/wallets/:userId", h.balance)
		v1.POST("/wallets/:userId/topup", h.topUp)
		v1.POST("/wallets/:userId/withdraw", h.withdraw)
		v1.POST("/wallets/:userId/purchase", h.purchase)
		v1.POST("/wallets/:userId/checkout", h.checkout)
		v1.GET("/wallets/:userId/transactions", h.history)
		v1.GET("/users/:userId/library", h.library)
		v1.GET("/admin/transactions", h.allTransactions)
		v1.GET("/ranking/top-games", h.topGames)
	}
}

type handler struct {
	svc WalletAPI
	log *zap.SugaredLogger
}

type topUpReq struct {
	Amount    decimal.Decimal `json:"amount"`
	RequestID string          `json:"request_id"`
}

type withdrawReq struct {
	Amount decimal.Decimal `json:"amount"`
}

type purchaseReq struct {
	GameID   string          `json:"game_id"`
	GameName string          `json:"game_name"`
	Amount   decimal.Decimal `json:"amount"`
}

type checkoutReq struct {
	Items []service.CheckoutItem `json:"items" binding:"required"`
}

func (h *handler) balance(c *gin.Context) {
	snap, err := h.svc.GetBalance(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *handler) topUp(c *gin.Context) {
	var req topUpReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = c.GetHeader(IdempotencyHeader)
	}
	bal, err := h.svc.TopUp(c.Request.Context(), c.Param("userId"), req.Amount, req.RequestID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal, "request_id": req.RequestID})
}

func (h *handler) withdraw(c *gin.Context) {
	var req withdrawReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	bal, err := h.svc.Withdraw(c.Request.Context(), c.Param("userId"), req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal, "withdrawn": req.Amount})
}

func (h *handler) purchase(c *gin.Context) {
	var req purchaseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	bal, err := h.svc.Purchase(c.Request.Context(), service.PurchaseRequest{
		UserID: c.Param("userId"), GameID: req.GameID, GameName: req.GameName, Amount: req.Amount,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance": bal,
		"spent":   req.Amount,
		"game_id": service.GameKey(req.GameID, req.GameName),
	})
}

func (h *handler) checkout(c *gin.Context) {
	var req checkoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.Checkout(c.Request.Context(), c.Param("userId"), req.Items)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) history(c *gin.Context) {
	txs, err := h.svc.ListTransactions(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(txs), "transactions": txs})
}

func (h *handler) allTransactions(c *gin.Context) {
	views, err := h.svc.ListAllTransactions(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(views), "transactions": views})
}

func (h *handler) library(c *gin.Context) {
	games, err := h.svc.Library(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(games), "games": games})
}

func (h *handler) topGames(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit", "code": "invalid_request"})
		return
	}
	ranking, err := h.svc.TopGames(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(ranking), "ranking": ranking})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
}

// fail maps service errors onto HTTP statuses.
func (h *handler) fail(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		status, code = http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, service.ErrInvalidRequest):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, service.ErrWalletNotFound):
		status, code = http.StatusNotFound, "wallet_not_found"
	case errors.Is(err, repo.ErrInsufficientFunds):
		status, code = http.StatusBadRequest, "insufficient_funds"
	case errors.Is(err, service.ErrAlreadyPurchased):
		status, code = http.StatusConflict, "already_purchased"
	case errors.Is(err, service.ErrStorageUnavailable):
		status, code = http.StatusServiceUnavailable, "storage_unavailable"
	}
	if status >= http.StatusInternalServerError {
		h.log.Errorw("request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": http.StatusText(status), "code": code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
