package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/padaukcraft/beads_backend/config"
	"github.com/padaukcraft/beads_backend/middlewares"
	"github.com/padaukcraft/beads_backend/models"
	"github.com/padaukcraft/beads_backend/models/reports"
	"github.com/padaukcraft/beads_backend/utils"
	"github.com/padaukcraft/beads_backend/workflow"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("beads-backend")

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// errorStatus maps the ledger error taxonomy onto HTTP statuses. Every entry
// here is a rejected operation whose transaction already rolled back.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrMissingQuantity),
		errors.Is(err, models.ErrIncompatibleUnitChange),
		errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrOverReturn),
		errors.Is(err, models.ErrInsufficientSkuStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrMissingProjection):
		return http.StatusConflict
	case errors.Is(err, models.ErrDuplicateRequest):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

func abortWithBindError(c *gin.Context, err error) {
	if fields := utils.ProcessValidationErrors(err); fields != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fields})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func loginHandler() gin.HandlerFunc {
	type loginInput struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	return func(c *gin.Context) {
		var input loginInput
		if err := c.ShouldBindJSON(&input); err != nil {
			abortWithBindError(c, err)
			return
		}
		info, err := models.Login(c.Request.Context(), input.Username, input.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func createPurchaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewPurchase
		if err := c.ShouldBindJSON(&input); err != nil {
			abortWithBindError(c, err)
			return
		}
		purchase, err := models.CreatePurchase(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, purchase)
	}
}

func updatePurchaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.PurchaseEdit
		if err := c.ShouldBindJSON(&input); err != nil {
			abortWithBindError(c, err)
			return
		}
		purchase, err := models.UpdatePurchase(c.Request.Context(), id, &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, purchase)
	}
}

func archivePurchaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		purchase, err := models.ArchivePurchase(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, purchase)
	}
}

func getPurchaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		purchase, err := models.GetPurchase(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, purchase)
	}
}

func getMaterialHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		view, err := models.GetMaterial(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func getMaterialForPurchaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		view, err := models.GetMaterialForPurchase(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func materialLedgerExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		f, err := reports.BuildMaterialLedgerWorkbook(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=material-%d-ledger.xlsx", id))
		if err := f.Write(c.Writer); err != nil {
			c.Status(http.StatusInternalServerError)
		}
	}
}

// withIdempotency wraps a write handler with the durable key check. Requests
// without X-Idempotency-Key run plain; repeated requests with the same key
// get 409 instead of a second stock movement.
func withIdempotency(handlerName string, run func(c *gin.Context) (int, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestKey := strings.TrimSpace(c.GetHeader("X-Idempotency-Key"))
		if requestKey == "" {
			if _, err := run(c); err != nil {
				abortWithError(c, err)
			}
			return
		}

		db := config.GetDB()
		key, err := models.ClaimIdempotencyKey(db, handlerName, requestKey)
		if err != nil {
			if errors.Is(err, models.ErrDuplicateRequest) && key != nil && key.Status == models.IdempotencyStatusSucceeded {
				c.JSON(http.StatusOK, gin.H{"replayed": true, "result_id": key.ResultId})
				return
			}
			abortWithError(c, err)
			return
		}

		resultId, err := run(c)
		if err != nil {
			_ = key.MarkFailed(db, err)
			abortWithError(c, err)
			return
		}
		_ = key.MarkSucceeded(db, resultId)
	}
}

func craftSkuHandler() gin.HandlerFunc {
	return withIdempotency("CraftSku", func(c *gin.Context) (int, error) {
		var input models.CraftSkuInput
		if err := c.ShouldBindJSON(&input); err != nil {
			return 0, err
		}
		sku, err := models.CraftSku(c.Request.Context(), &input)
		if err != nil {
			return 0, err
		}
		c.JSON(http.StatusCreated, sku)
		return sku.ID, nil
	})
}

func destroySkuHandler() gin.HandlerFunc {
	return withIdempotency("DestroySku", func(c *gin.Context) (int, error) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			return 0, errors.New("invalid id")
		}
		var input models.DestroySkuInput
		if err := c.ShouldBindJSON(&input); err != nil {
			return 0, err
		}
		sku, err := models.DestroySku(c.Request.Context(), id, &input)
		if err != nil {
			return 0, err
		}
		c.JSON(http.StatusOK, sku)
		return sku.ID, nil
	})
}

func getSkuHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		sku, err := models.GetSku(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, sku)
	}
}

func getSkuLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		logs, err := models.SkuLogEntries(config.GetDB().WithContext(c.Request.Context()), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, logs)
	}
}

func reconcileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "reconcile")
		defer span.End()

		target := c.Param("id")
		if target == "all" {
			summary, err := models.ReconcileAll(ctx)
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, summary)
			return
		}
		id, err := strconv.Atoi(target)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		result, err := models.ReconcileMaterial(ctx, id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// Ops tooling (admin only): normalize legacy piece-denominated returns.
func legacyBackfillHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.GetIsAdminFromContext(c.Request.Context()) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		result, err := workflow.NormalizeLegacyReturns(c.Request.Context(), logger)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func createUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.GetIsAdminFromContext(c.Request.Context()) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			abortWithBindError(c, err)
			return
		}
		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, user)
	}
}

// customErrorLogger logs only requests that accumulated errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the startup probe passes. Until DB/Redis
	// are ready we return 503 for app endpoints.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "X-Idempotency-Key", "X-Correlation-Id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", "X-Correlation-Id")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/login", loginHandler())

	authed := r.Group("/", middlewares.RequireAuth())
	authed.POST("/users", createUserHandler())
	authed.POST("/purchases", createPurchaseHandler())
	authed.GET("/purchases/:id", getPurchaseHandler())
	authed.PATCH("/purchases/:id", updatePurchaseHandler())
	authed.POST("/purchases/:id/archive", archivePurchaseHandler())
	authed.GET("/purchases/:id/material", getMaterialForPurchaseHandler())
	authed.GET("/materials/:id", getMaterialHandler())
	authed.GET("/materials/:id/ledger.xlsx", materialLedgerExportHandler())
	authed.POST("/skus/craft", craftSkuHandler())
	authed.GET("/skus/:id", getSkuHandler())
	authed.GET("/skus/:id/logs", getSkuLogsHandler())
	authed.POST("/skus/:id/destroy", destroySkuHandler())
	authed.POST("/reconcile/:id", reconcileHandler())
	authed.POST("/internal/ops/ledger/normalize-legacy-returns", legacyBackfillHandler(logger))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running it as a
	// separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	if config.AuditOutboxEnabled() {
		go workflow.NewAuditDispatcher(db, logger).Run(workerCtx)
	}
	if config.ScheduledReconcileEnabled() {
		go workflow.RunScheduledReconciliation(workerCtx, logger)
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<minInt(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while draining.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
