// Package httpapi exposes the ads service over an authenticated gin router.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"github.com/waldoclick/waldo-project-sub000/pkg/ads"
	"go.uber.org/zap"
)

// Server wraps the router and its listener lifecycle.
type Server struct {
	cfg     Config
	logger  *zap.Logger
	service *ads.Service
	router  *gin.Engine
}

// New builds the router with session validation and CORS.
func New(cfg Config, service *ads.Service, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if service == nil {
		return nil, fmt.Errorf("ads service is required")
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}

	server := &Server{cfg: cfg, logger: logger, service: service}
	server.router = server.setupRouter(sessionValidator)
	return server, nil
}

// Router exposes the underlying handler, mainly for tests.
func (server *Server) Router() *gin.Engine {
	return server.router
}

// Run serves until the context is canceled.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.router,
	}
	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) setupRouter(validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// the gateway redirects the buyer's browser here with the transaction token
	router.GET("/payment/return", server.handlePaymentReturn)
	router.POST("/payment/return", server.handlePaymentReturn)

	api := router.Group("/api")
	api.Use(validator.GinMiddleware("auth_claims"))

	api.GET("/session", server.handleSession)
	api.POST("/bootstrap", server.handleBootstrap)
	api.GET("/credits", server.handleListCredits)
	api.GET("/packs", server.handleListPacks)

	api.GET("/ads", server.handleListAds)
	api.POST("/ads", server.handleCreateAd)
	api.GET("/ads/:id", server.handleGetAd)
	api.POST("/ads/:id/approve", server.handleApprove)
	api.POST("/ads/:id/reject", server.handleReject)
	api.POST("/ads/:id/ban", server.handleBan)
	api.POST("/ads/:id/deactivate", server.handleDeactivate)

	return router
}

func (server *Server) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id": claims.GetUserID(),
		"email":   claims.GetUserEmail(),
		"display": claims.GetUserDisplayName(),
		"roles":   claims.GetUserRoles(),
		"expires": claims.GetExpiresAt().Unix(),
	})
}

// handleBootstrap tops the caller's free quotas up and returns the credit
// wallet. Idempotent: calling it repeatedly never mints beyond the quota.
func (server *Server) handleBootstrap(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()

	for _, kind := range []ads.CreditKind{ads.CreditKindAd, ads.CreditKindFeatured} {
		if _, err := server.service.EnsureFreeQuota(requestCtx, claims.GetUserID(), kind); err != nil {
			server.logger.Error("bootstrap quota failed", zap.Error(err))
			server.respondError(ctx, err)
			return
		}
	}
	server.respondWithCredits(ctx, requestCtx, claims.GetUserID())
}

func (server *Server) handleListCredits(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	server.respondWithCredits(ctx, requestCtx, claims.GetUserID())
}

func (server *Server) handleListPacks(ctx *gin.Context) {
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	packs, err := server.service.ListPacks(requestCtx)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]packPayload, 0, len(packs))
	for _, pack := range packs {
		payload = append(payload, packPayload{
			PackID:        pack.PackID,
			Name:          pack.Name,
			PriceCents:    pack.PriceCents,
			TotalAds:      pack.TotalAds,
			TotalDays:     pack.TotalDays,
			TotalFeatures: pack.TotalFeatures,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"packs": payload})
}

func (server *Server) handleListAds(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	filter := ads.AdFilter{OrderBy: ctx.Query("order_by")}
	if !server.isAdmin(claims) || ctx.Query("mine") == "1" {
		filter.UserID = claims.GetUserID()
	}
	listed, err := server.service.ListAds(requestCtx, filter)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]adPayload, 0, len(listed))
	for _, ad := range listed {
		payload = append(payload, adToPayload(ad))
	}
	ctx.JSON(http.StatusOK, gin.H{"ads": payload})
}

// handleCreateAd validates the purchase, persists the ad, and either settles
// it from credits or answers with the gateway redirect.
func (server *Server) handleCreateAd(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request createAdRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if request.Name == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "name is required"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()

	choices := ads.PurchaseChoices{Pack: request.Pack, Featured: request.Featured}
	paymentRequired, err := server.service.ValidatePurchase(requestCtx, claims.GetUserID(), choices)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ad, err := server.service.CreateOrUpdateAd(requestCtx, ads.AdInput{
		AdID:        request.AdID,
		UserID:      claims.GetUserID(),
		Name:        request.Name,
		Description: request.Description,
	}, choices)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if paymentRequired {
		redirect, err := server.service.BeginPayment(requestCtx, ad.AdID, claims.GetUserID())
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{
			"ad": adToPayload(ad),
			"payment": gin.H{
				"token": redirect.Token,
				"url":   redirect.URL,
			},
		})
		return
	}
	settled, err := server.service.SettleFree(requestCtx, ad.AdID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ad": adToPayload(settled)})
}

func (server *Server) handlePaymentReturn(ctx *gin.Context) {
	token := ctx.Query("token_ws")
	if token == "" {
		token = ctx.PostForm("token_ws")
	}
	if token == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "missing token_ws"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	order, err := server.service.ConfirmPayment(requestCtx, token)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": gin.H{
		"order_id":     order.OrderID,
		"ad_id":        order.AdID,
		"buy_order":    order.BuyOrder,
		"amount_cents": order.AmountCents,
	}})
}

func (server *Server) handleGetAd(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	ad, err := server.service.GetAd(requestCtx, ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if ad.UserID != claims.GetUserID() && !server.isAdmin(claims) {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "not your ad"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ad": adToPayload(ad)})
}

func (server *Server) handleApprove(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	if !server.isAdmin(claims) {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	actor := ads.Actor{ID: claims.GetUserID(), Admin: true}
	if err := server.service.Approve(requestCtx, ctx.Param("id"), actor); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (server *Server) handleReject(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	if !server.isAdmin(claims) {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
		return
	}
	var request reasonRequest
	_ = ctx.ShouldBindJSON(&request)
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	actor := ads.Actor{ID: claims.GetUserID(), Admin: true}
	if err := server.service.Reject(requestCtx, ctx.Param("id"), actor, request.Reason); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (server *Server) handleBan(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request reasonRequest
	_ = ctx.ShouldBindJSON(&request)
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	actor := ads.Actor{ID: claims.GetUserID(), Admin: server.isAdmin(claims)}
	if err := server.service.Ban(requestCtx, ctx.Param("id"), actor, request.Reason); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (server *Server) handleDeactivate(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	actor := ads.Actor{ID: claims.GetUserID(), Admin: server.isAdmin(claims)}
	if err := server.service.Deactivate(requestCtx, ctx.Param("id"), actor); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (server *Server) respondWithCredits(ctx *gin.Context, requestCtx context.Context, userID string) {
	credits, err := server.service.ListCredits(requestCtx, userID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]creditPayload, 0, len(credits))
	for _, credit := range credits {
		payload = append(payload, creditPayload{
			CreditID:   credit.CreditID,
			Kind:       credit.Kind.String(),
			PriceCents: credit.PriceCents,
			TotalDays:  credit.TotalDays,
			AdID:       credit.AdID,
			Available:  credit.Available(),
			Free:       credit.Free(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"credits": payload})
}

func (server *Server) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
}

func (server *Server) isAdmin(claims *sessionvalidator.Claims) bool {
	for _, role := range claims.GetUserRoles() {
		if role == server.cfg.AdminRole {
			return true
		}
	}
	return false
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	status, code := statusFromError(err)
	if status >= http.StatusInternalServerError {
		server.logger.Error("request failed", zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func statusFromError(err error) (int, string) {
	switch {
	case errors.Is(err, ads.ErrAdNotFound),
		errors.Is(err, ads.ErrPackNotFound),
		errors.Is(err, ads.ErrCreditNotFound),
		errors.Is(err, ads.ErrOrderNotFound),
		errors.Is(err, ads.ErrPendingPaymentNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ads.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ads.ErrValidationFailed),
		errors.Is(err, ads.ErrInvalidChoices),
		errors.Is(err, ads.ErrInvalidCreditKind):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, ads.ErrInvalidTransition),
		errors.Is(err, ads.ErrAlreadyTerminal),
		errors.Is(err, ads.ErrCreditConsumed),
		errors.Is(err, ads.ErrPaymentStateConflict),
		errors.Is(err, ads.ErrDuplicateBuyOrder):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ads.ErrGatewayDeclined):
		return http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, ads.ErrGatewayUnavailable):
		return http.StatusBadGateway, "gateway_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get("auth_claims")
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type createAdRequest struct {
	AdID        string `json:"ad_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Pack        string `json:"pack"`
	Featured    string `json:"featured"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type adPayload struct {
	AdID          string  `json:"ad_id"`
	UserID        string  `json:"user_id"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Status        string  `json:"status"`
	RemainingDays int     `json:"remaining_days"`
	DurationDays  int     `json:"duration_days"`
	IsPaid        bool    `json:"is_paid"`
	Featured      bool    `json:"featured"`
	RejectReason  string  `json:"reject_reason,omitempty"`
	BanReason     string  `json:"ban_reason,omitempty"`
	ReservationID *string `json:"reservation_id,omitempty"`
}

type creditPayload struct {
	CreditID   string  `json:"credit_id"`
	Kind       string  `json:"kind"`
	PriceCents int64   `json:"price_cents"`
	TotalDays  int     `json:"total_days"`
	AdID       *string `json:"ad_id,omitempty"`
	Available  bool    `json:"available"`
	Free       bool    `json:"free"`
}

type packPayload struct {
	PackID        string `json:"pack_id"`
	Name          string `json:"name"`
	PriceCents    int64  `json:"price_cents"`
	TotalAds      int    `json:"total_ads"`
	TotalDays     int    `json:"total_days"`
	TotalFeatures int    `json:"total_features"`
}

func adToPayload(ad ads.Ad) adPayload {
	return adPayload{
		AdID:          ad.AdID,
		UserID:        ad.UserID,
		Name:          ad.Name,
		Description:   ad.Description,
		Status:        ads.ResolveStatus(ad).String(),
		RemainingDays: ad.RemainingDays,
		DurationDays:  ad.DurationDays,
		IsPaid:        ad.IsPaid,
		Featured:      ad.FeaturedReservationID != nil,
		RejectReason:  ad.RejectReason,
		BanReason:     ad.BanReason,
		ReservationID: ad.ReservationID,
	}
}
