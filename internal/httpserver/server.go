package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/tokenvault/pkg/vault"
)

// Run serves the vault API until the context is cancelled, then shuts the
// listener down gracefully.
func Run(ctx context.Context, cfg Config, service *vault.Service, logger *zap.Logger) error {
	if service == nil {
		return errors.New("vault service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid http config: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	handler := &httpHandler{logger: logger, service: service}
	router := setupRouter(cfg, handler, newAuthorizer(cfg))

	server := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("vault api listening", zap.String("addr", cfg.ListenAddr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func setupRouter(cfg Config, handler *httpHandler, auth *authorizer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/v1")
	api.GET("/token-types/:id", handler.handleTokenType)
	api.GET("/token-types/:id/supply", handler.handleSupply)
	api.GET("/accounts/:account/balance", handler.handleBalance)
	api.GET("/accounts/:account/records", handler.handleRecords)
	api.GET("/accounts/:account/journal", handler.handleJournal)
	api.POST("/accounts/:account/prune", handler.handlePrune)

	mutations := api.Group("")
	mutations.Use(auth.GinMiddleware())
	mutations.POST("/token-types", handler.handleRegisterTokenType)
	mutations.POST("/accounts/:account/credits", handler.handleCredit)
	mutations.POST("/accounts/:account/debits", handler.handleDebit)
	mutations.POST("/transfers", handler.handleTransfer)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	service *vault.Service
}

func (handler *httpHandler) handleRegisterTokenType(ctx *gin.Context) {
	var request registerTokenTypeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	tokenType, err := vault.NewTokenTypeID(request.TokenType)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := metadataFromRaw(request.Metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	config := vault.TokenTypeConfig{TTLSeconds: request.TTLSeconds, MaxRecords: request.MaxRecords}
	if err := handler.service.RegisterTokenType(ctx.Request.Context(), tokenType, config, metadata); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, tokenTypeResponse{
		TokenType:  tokenType.String(),
		TTLSeconds: config.TTLSeconds,
		MaxRecords: config.MaxRecords,
	})
}

func (handler *httpHandler) handleTokenType(ctx *gin.Context) {
	tokenType, err := vault.NewTokenTypeID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	config, err := handler.service.TokenTypeOf(ctx.Request.Context(), tokenType)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, tokenTypeResponse{
		TokenType:  tokenType.String(),
		TTLSeconds: config.TTLSeconds,
		MaxRecords: config.MaxRecords,
	})
}

func (handler *httpHandler) handleSupply(ctx *gin.Context) {
	tokenType, err := vault.NewTokenTypeID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	totals, err := handler.service.SupplyOf(ctx.Request.Context(), tokenType)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	circulating, err := totals.Circulating()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, supplyResponse{
		TokenType:   tokenType.String(),
		Credited:    totals.Credited.Int64(),
		Debited:     totals.Debited.Int64(),
		Expired:     totals.Expired.Int64(),
		Circulating: circulating.Int64(),
	})
}

func (handler *httpHandler) handleCredit(ctx *gin.Context) {
	account, ok := handler.accountParam(ctx)
	if !ok {
		return
	}
	var request creditRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	tokenType, err := vault.NewTokenTypeID(request.TokenType)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	amount, err := vault.NewAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := metadataFromRaw(request.Metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if request.TTLSeconds != nil {
		err = handler.service.Credit(ctx.Request.Context(), account, tokenType, amount, *request.TTLSeconds, metadata)
	} else {
		err = handler.service.CreditType(ctx.Request.Context(), account, tokenType, amount, metadata)
	}
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondBalance(ctx, account, tokenType)
}

func (handler *httpHandler) handleDebit(ctx *gin.Context) {
	account, ok := handler.accountParam(ctx)
	if !ok {
		return
	}
	var request debitRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	tokenType, err := vault.NewTokenTypeID(request.TokenType)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	amount, err := vault.NewAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := metadataFromRaw(request.Metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if err := handler.service.Debit(ctx.Request.Context(), account, tokenType, amount, metadata); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondBalance(ctx, account, tokenType)
}

func (handler *httpHandler) handleTransfer(ctx *gin.Context) {
	var request transferRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	from, err := vault.NewAccountID(request.From)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	to, err := vault.NewAccountID(request.To)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	tokenType, err := vault.NewTokenTypeID(request.TokenType)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	amount, err := vault.NewAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := metadataFromRaw(request.Metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if err := handler.service.Move(ctx.Request.Context(), from, to, tokenType, amount, metadata); err != nil {
		handler.respondError(ctx, err)
		return
	}
	fromBalance, err := handler.service.BalanceOf(ctx.Request.Context(), from, tokenType)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	toBalance, err := handler.service.BalanceOf(ctx.Request.Context(), to, tokenType)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, transferResponse{
		From:        from.String(),
		To:          to.String(),
		TokenType:   tokenType.String(),
		FromBalance: fromBalance.Int64(),
		ToBalance:   toBalance.Int64(),
	})
}

func (handler *httpHandler) handlePrune(ctx *gin.Context) {
	account, ok := handler.accountParam(ctx)
	if !ok {
		return
	}
	tokenType, ok := handler.tokenTypeQuery(ctx)
	if !ok {
		return
	}
	expired, err := handler.service.Prune(ctx.Request.Context(), account, tokenType)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	balance, err := handler.service.BalanceOf(ctx.Request.Context(), account, tokenType)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, pruneResponse{
		Account:   account.String(),
		TokenType: tokenType.String(),
		Expired:   expired.Int64(),
		Balance:   balance.Int64(),
	})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	account, ok := handler.accountParam(ctx)
	if !ok {
		return
	}
	tokenType, ok := handler.tokenTypeQuery(ctx)
	if !ok {
		return
	}
	handler.respondBalance(ctx, account, tokenType)
}

func (handler *httpHandler) handleRecords(ctx *gin.Context) {
	account, ok := handler.accountParam(ctx)
	if !ok {
		return
	}
	tokenType, ok := handler.tokenTypeQuery(ctx)
	if !ok {
		return
	}
	records, err := handler.service.RecordsOf(ctx.Request.Context(), account, tokenType)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]recordPayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, recordPayload{
			Amount:        record.Amount.Int64(),
			ExpiresAtUnix: record.ExpiresAtUnix,
		})
	}
	ctx.JSON(http.StatusOK, recordsResponse{
		Account:   account.String(),
		TokenType: tokenType.String(),
		Records:   payload,
	})
}

func (handler *httpHandler) handleJournal(ctx *gin.Context) {
	account, ok := handler.accountParam(ctx)
	if !ok {
		return
	}
	tokenType, ok := handler.tokenTypeQuery(ctx)
	if !ok {
		return
	}
	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	entries, err := handler.service.Journal(ctx.Request.Context(), account, tokenType, limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]journalEntryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, journalEntryPayload{
			EntryID:        entry.EntryID,
			Operation:      entry.Operation.String(),
			Account:        entry.Account,
			CounterAccount: entry.CounterAccount,
			TokenType:      entry.TokenType,
			Amount:         entry.Amount.Int64(),
			ExpiresAtUnix:  entry.ExpiresAtUnix,
			Metadata:       json.RawMessage(entry.MetadataJSON),
			CreatedUnix:    entry.CreatedUnix,
		})
	}
	ctx.JSON(http.StatusOK, journalResponse{
		Account:   account.String(),
		TokenType: tokenType.String(),
		Entries:   payload,
	})
}

func (handler *httpHandler) respondBalance(ctx *gin.Context, account vault.AccountID, tokenType vault.TokenTypeID) {
	balance, err := handler.service.BalanceOf(ctx.Request.Context(), account, tokenType)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balanceResponse{
		Account:   account.String(),
		TokenType: tokenType.String(),
		Balance:   balance.Int64(),
	})
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	var insufficient vault.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		ctx.JSON(http.StatusConflict, gin.H{"error": gin.H{
			"code":      "insufficient_balance",
			"message":   insufficient.Error(),
			"available": insufficient.Available().Int64(),
			"requested": insufficient.Requested().Int64(),
		}})
	case errors.Is(err, vault.ErrTokenTypeNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("token_type_not_found", "token type is not registered"))
	case isValidationError(err):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	default:
		handler.logger.Error("vault operation failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "operation failed"))
	}
}

func (handler *httpHandler) accountParam(ctx *gin.Context) (vault.AccountID, bool) {
	account, err := vault.NewAccountID(ctx.Param("account"))
	if err != nil {
		handler.respondError(ctx, err)
		return vault.AccountID{}, false
	}
	return account, true
}

func (handler *httpHandler) tokenTypeQuery(ctx *gin.Context) (vault.TokenTypeID, bool) {
	tokenType, err := vault.NewTokenTypeID(ctx.Query("token_type"))
	if err != nil {
		handler.respondError(ctx, err)
		return vault.TokenTypeID{}, false
	}
	return tokenType, true
}

func isValidationError(err error) bool {
	for _, sentinel := range []error{
		vault.ErrInvalidAccountID,
		vault.ErrInvalidTokenTypeID,
		vault.ErrInvalidAmount,
		vault.ErrInvalidTTL,
		vault.ErrInvalidTokenTypeConfig,
		vault.ErrInvalidMetadataJSON,
		vault.ErrAmountOverflow,
		vault.ErrTimeOverflow,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func metadataFromRaw(raw json.RawMessage) (vault.MetadataJSON, error) {
	value := string(raw)
	if value == "null" {
		value = ""
	}
	return vault.NewMetadataJSON(value)
}

func errorResponse(code string, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}

type registerTokenTypeRequest struct {
	TokenType  string          `json:"token_type"`
	TTLSeconds int64           `json:"ttl_seconds"`
	MaxRecords int             `json:"max_records"`
	Metadata   json.RawMessage `json:"metadata"`
}

type creditRequest struct {
	TokenType  string          `json:"token_type"`
	Amount     int64           `json:"amount"`
	TTLSeconds *int64          `json:"ttl_seconds"`
	Metadata   json.RawMessage `json:"metadata"`
}

type debitRequest struct {
	TokenType string          `json:"token_type"`
	Amount    int64           `json:"amount"`
	Metadata  json.RawMessage `json:"metadata"`
}

type transferRequest struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	TokenType string          `json:"token_type"`
	Amount    int64           `json:"amount"`
	Metadata  json.RawMessage `json:"metadata"`
}

type tokenTypeResponse struct {
	TokenType  string `json:"token_type"`
	TTLSeconds int64  `json:"ttl_seconds"`
	MaxRecords int    `json:"max_records"`
}

type balanceResponse struct {
	Account   string `json:"account"`
	TokenType string `json:"token_type"`
	Balance   int64  `json:"balance"`
}

type transferResponse struct {
	From        string `json:"from"`
	To          string `json:"to"`
	TokenType   string `json:"token_type"`
	FromBalance int64  `json:"from_balance"`
	ToBalance   int64  `json:"to_balance"`
}

type pruneResponse struct {
	Account   string `json:"account"`
	TokenType string `json:"token_type"`
	Expired   int64  `json:"expired"`
	Balance   int64  `json:"balance"`
}

type recordPayload struct {
	Amount        int64 `json:"amount"`
	ExpiresAtUnix int64 `json:"expires_at_unix"`
}

type recordsResponse struct {
	Account   string          `json:"account"`
	TokenType string          `json:"token_type"`
	Records   []recordPayload `json:"records"`
}

type journalEntryPayload struct {
	EntryID        string          `json:"entry_id"`
	Operation      string          `json:"operation"`
	Account        string          `json:"account"`
	CounterAccount string          `json:"counter_account,omitempty"`
	TokenType      string          `json:"token_type"`
	Amount         int64           `json:"amount"`
	ExpiresAtUnix  int64           `json:"expires_at_unix,omitempty"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnix    int64           `json:"created_unix"`
}

type journalResponse struct {
	Account   string                `json:"account"`
	TokenType string                `json:"token_type"`
	Entries   []journalEntryPayload `json:"entries"`
}

type supplyResponse struct {
	TokenType   string `json:"token_type"`
	Credited    int64  `json:"credited"`
	Debited     int64  `json:"debited"`
	Expired     int64  `json:"expired"`
	Circulating int64  `json:"circulating"`
}
