// Package server exposes the settlement engine over HTTP.
//
// Callers identify themselves with the X-Account-ID header; the engine
// decides whether that account may perform the operation. Operator
// routes live under /v1/admin.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/boltfi/protocol-v1/internal/guard"
	"github.com/boltfi/protocol-v1/internal/observability"
	"github.com/boltfi/protocol-v1/internal/token"
	"github.com/boltfi/protocol-v1/internal/vault"
)

const accountHeader = "X-Account-ID"

// Server wires the engine into an HTTP router.
type Server struct {
	engine *vault.Engine
	tokens map[string]vault.Token // sweepable tokens by symbol
	health *observability.HealthChecker
	log    zerolog.Logger
}

type Config struct {
	Engine *vault.Engine
	Tokens map[string]vault.Token
	Health *observability.HealthChecker
	Logger zerolog.Logger
}

func New(cfg Config) *Server {
	return &Server{
		engine: cfg.Engine,
		tokens: cfg.Tokens,
		health: cfg.Health,
		log:    cfg.Logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", gin.WrapF(s.health.LivenessHandler))
	r.GET("/readyz", gin.WrapF(s.health.ReadinessHandler))

	v1 := r.Group("/v1")
	{
		v1.POST("/deposits", s.handleDeposit)
		v1.POST("/redeems", s.handleRedeem)

		v1.GET("/vault", s.handleVaultState)
		v1.GET("/queues/deposits", s.handlePendingDeposits)
		v1.GET("/queues/redeems", s.handlePendingRedeems)

		v1.GET("/previews/deposit", s.handlePreviewDeposit)
		v1.GET("/previews/redeem", s.handlePreviewRedeem)
		v1.GET("/previews/process-deposits", s.handlePreviewProcessDeposits)
		v1.GET("/previews/process-redeems", s.handlePreviewProcessRedeems)

		admin := v1.Group("/admin")
		{
			admin.POST("/price", s.handleUpdatePrice)
			admin.POST("/withdrawal-fee", s.handleUpdateWithdrawalFee)
			admin.POST("/process-deposits", s.handleProcessDeposits)
			admin.POST("/process-redeems", s.handleProcessRedeems)
			admin.POST("/revert-deposit", s.handleRevertDeposit)
			admin.POST("/revert-redeem", s.handleRevertRedeem)
			admin.POST("/pause", s.handlePause)
			admin.POST("/unpause", s.handleUnpause)
			admin.POST("/transfer-operator", s.handleTransferOperator)
			admin.POST("/sweep", s.handleSweep)
		}
	}

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

// caller extracts the acting account from the X-Account-ID header.
func caller(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader(accountHeader))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid " + accountHeader + " header"})
		return uuid.Nil, false
	}
	return id, true
}

// fail maps engine sentinel errors to HTTP statuses.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, guard.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, guard.ErrPaused),
		errors.Is(err, vault.ErrStalePrice):
		status = http.StatusConflict
	case errors.Is(err, vault.ErrZeroAmount),
		errors.Is(err, vault.ErrInvalidFeeRate),
		errors.Is(err, guard.ErrInvalidOperator):
		status = http.StatusBadRequest
	case errors.Is(err, vault.ErrQueueEmpty):
		status = http.StatusNotFound
	case errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// --- Holder routes ---

type depositRequest struct {
	Receiver uuid.UUID `json:"receiver" binding:"required"`
	Assets   int64     `json:"assets"`
}

func (s *Server) handleDeposit(c *gin.Context) {
	acct, ok := caller(c)
	if !ok {
		return
	}
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.Deposit(acct, req.Receiver, req.Assets); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

type redeemRequest struct {
	Owner    uuid.UUID `json:"owner" binding:"required"`
	Receiver uuid.UUID `json:"receiver" binding:"required"`
	Shares   int64     `json:"shares"`
}

func (s *Server) handleRedeem(c *gin.Context) {
	acct, ok := caller(c)
	if !ok {
		return
	}
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.Redeem(acct, req.Receiver, req.Owner, req.Shares); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// --- Query routes ---

func (s *Server) handleVaultState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"operator":         s.engine.Guard().Operator(),
		"paused":           s.engine.Guard().Paused(),
		"price":            s.engine.Price(),
		"price_updated_at": s.engine.PriceUpdatedAt(),
		"withdrawal_fee":   s.engine.WithdrawalFee(),
		"total_assets":     s.engine.TotalAssets(),
		"total_supply":     s.engine.TotalSupply(),
	})
}

func (s *Server) handlePendingDeposits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"deposits": s.engine.PendingDeposits()})
}

func (s *Server) handlePendingRedeems(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"redeems": s.engine.PendingRedeems()})
}

func (s *Server) handlePreviewDeposit(c *gin.Context) {
	assets, ok := queryInt64(c, "assets")
	if !ok {
		return
	}
	shares, err := s.engine.PreviewDeposit(assets)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assets": assets, "shares": shares})
}

func (s *Server) handlePreviewRedeem(c *gin.Context) {
	shares, ok := queryInt64(c, "shares")
	if !ok {
		return
	}
	assets, err := s.engine.PreviewRedeem(shares)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shares": shares, "assets": assets})
}

func (s *Server) handlePreviewProcessDeposits(c *gin.Context) {
	count, ok := queryInt(c, "count")
	if !ok {
		return
	}
	p, err := s.engine.PreviewProcessDeposits(count)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handlePreviewProcessRedeems(c *gin.Context) {
	count, ok := queryInt(c, "count")
	if !ok {
		return
	}
	p, err := s.engine.PreviewProcessRedeems(count)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// --- Operator routes ---

func (s *Server) handleUpdatePrice(c *gin.Context) {
	acct, ok := caller(c)
	if !ok {
		return
	}
	var req struct {
		Price int64 `json:"price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.UpdatePrice(acct, req.Price); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"price": req.Price})
}

func (s *Server) handleUpdateWithdrawalFee(c *gin.Context) {
	acct, ok := caller(c)
	if !ok {
		return
	}
	var req struct {
		Rate int64 `json:"rate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.UpdateWithdrawalFee(acct, req.Rate); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rate": req.Rate})
}

func (s *Server) handleProcessDeposits(c *gin.Context) {
	acct, ok := caller(c)
	if !ok {
		return
	}
	var req struct {
		Count int `json:"count" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.ProcessDeposits(acct, req.Count); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_assets": s.engine.TotalAssets(),
		"total_supply": s.engine.TotalSupply(),
	})
}

func (s *Server) handleProcessRedeems(c *gin.Context) {
	acct, ok := caller(c)
	if !ok {
		return
	}
	var req struct {
		Count          int   `json:"count" binding:"required"`
		SuppliedAssets int64 `json:"supplied_assets"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.ProcessRedeems(acct, req.Count, req.SuppliedAssets); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_assets": s.engine.TotalAssets(),
		"total_supply": s.engine.TotalSupply(),
	})
}

func (s *Server) handleRevertDeposit(c *gin.Context) {
	acct, ok := caller(c)
	if !ok {
		return
	}
	if err := s.engine.RevertFrontDeposit(acct); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reverted": true})
}

func (s *Server) handleRevertRedeem(c *gin.Context) {
	acct, ok := caller(c)
	if !ok {
		return
	}
	if err := s.engine.RevertFrontRedeem(acct); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reverted": true})
}

func (s *Server) handlePause(c *gin.Context) {
	acct, ok := caller(c)
	if !ok {
		return
	}
	if err := s.engine.Guard().Pause(acct); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) handleUnpause(c *gin.Context) {
	acct, ok := caller(c)
	if !ok {
		return
	}
	if err := s.engine.Guard().Unpause(acct); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) handleTransferOperator(c *gin.Context) {
	acct, ok := caller(c)
	if !ok {
		return
	}
	var req struct {
		Operator uuid.UUID `json:"operator"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.Guard().TransferOperator(acct, req.Operator); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operator": req.Operator})
}

func (s *Server) handleSweep(c *gin.Context) {
	acct, ok := caller(c)
	if !ok {
		return
	}
	var req struct {
		Symbol string `json:"symbol" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, found := s.tokens[req.Symbol]
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown token " + req.Symbol})
		return
	}
	amount, err := s.engine.WithdrawalToOwner(acct, tok)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": req.Symbol, "amount": amount})
}

// --- helpers ---

func queryInt64(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " parameter"})
		return 0, false
	}
	return v, true
}

func queryInt(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " parameter"})
		return 0, false
	}
	return v, true
}
