package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
	"bitbucket.org/mmdatafocus/shipping_backend/middlewares"
	"bitbucket.org/mmdatafocus/shipping_backend/models"
	"bitbucket.org/mmdatafocus/shipping_backend/models/reports"
	"bitbucket.org/mmdatafocus/shipping_backend/utils"
	"bitbucket.org/mmdatafocus/shipping_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

const defaultPort = "8080"

var tracer = otel.Tracer("shipping-backoffice")

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// PubSubPushEnvelope is the wrapper Pub/Sub push subscriptions POST to us.
type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func requireUser(c *gin.Context) (int, models.UserRole, bool) {
	userId, ok := utils.GetUserIdFromContext(c.Request.Context())
	if !ok || userId <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, "", false
	}
	role, _ := utils.GetUserRoleFromContext(c.Request.Context())
	return userId, models.UserRole(role), true
}

func requireManifestManager(c *gin.Context) (int, models.UserRole, bool) {
	userId, role, ok := requireUser(c)
	if !ok {
		return 0, "", false
	}
	if !role.CanManageManifests() {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return 0, "", false
	}
	return userId, role, true
}

func loginHandler() gin.HandlerFunc {
	type loginRequest struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		token, user, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
	}
}

func createCustomerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, _, ok := requireManifestManager(c); !ok {
			return
		}
		var input models.NewCustomer
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		customer, err := models.CreateCustomer(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, customer)
	}
}

func getCustomerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, _, ok := requireUser(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		customer, err := models.GetCustomer(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "customer not found"})
			return
		}
		c.JSON(http.StatusOK, customer)
	}
}

func getCustomerLedgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, _, ok := requireUser(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit <= 0 || limit > config.SearchLimit {
			limit = config.SearchLimit
		}
		db := config.GetDB()
		rows, err := models.GetCustomerTransactions(db.WithContext(c.Request.Context()), id, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load ledger"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"transactions": rows})
	}
}

func createPackageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, _, ok := requireManifestManager(c); !ok {
			return
		}
		var input models.NewPackage
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		pkg, err := models.CreatePackage(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, pkg)
	}
}

func getPackageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, _, ok := requireUser(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		pkg, err := models.GetPackage(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "package not found"})
			return
		}
		c.JSON(http.StatusOK, pkg)
	}
}

func searchPackagesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, _, ok := requireUser(c); !ok {
			return
		}
		customerId, _ := strconv.Atoi(c.Query("customer_id"))
		manifestId, _ := strconv.Atoi(c.Query("manifest_id"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		pkgs, total, err := models.SearchPackages(c.Request.Context(), customerId, manifestId, c.Query("status"), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"packages": pkgs, "total": total})
	}
}

func deletePackageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, _, ok := requireManifestManager(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		if err := models.DeletePackage(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func updatePackageStatusHandler() gin.HandlerFunc {
	type statusRequest struct {
		Status string `json:"status" binding:"required"`
		Note   string `json:"note"`
	}
	return func(c *gin.Context) {
		userId, _, ok := requireManifestManager(c)
		if !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		var req statusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := models.ParsePackageStatus(req.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		pkg, err := workflow.UpdatePackageStatus(c.Request.Context(), id, status, userId, req.Note)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, pkg)
	}
}

func feePreviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, _, ok := requireManifestManager(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		var input workflow.FeeUpdateInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		preview, err := workflow.GetFeeUpdatePreview(c.Request.Context(), id, input)
		if err != nil {
			var fieldErr workflow.FeeValidationError
			if errors.As(err, &fieldErr) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": fieldErr.Fields})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, preview)
	}
}

func updatePackageFeesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, _, ok := requireManifestManager(c)
		if !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		var input workflow.FeeUpdateInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		pkg, err := workflow.UpdatePackageFeesAndSetReady(c.Request.Context(), id, input, userId)
		if err != nil {
			var fieldErr workflow.FeeValidationError
			if errors.As(err, &fieldErr) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": fieldErr.Fields})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, pkg)
	}
}

func createDistributionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, _, ok := requireManifestManager(c)
		if !ok {
			return
		}
		var input workflow.DistributionInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		// Best-effort redis lock to shed obvious double submits early.
		// Correctness does not depend on it; the workflow serializes via
		// MySQL advisory locks.
		logger := config.GetLogger()
		if locker := config.GetRedisLock(); locker != nil && len(input.PackageIds) > 0 {
			key := fmt.Sprintf("lock:distribute:%d", input.PackageIds[0])
			lock, err := locker.Obtain(c.Request.Context(), key, 30*time.Second, nil)
			if err == nil {
				defer func() {
					if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil && releaseErr != redislock.ErrLockNotHeld {
						logger.WithFields(logrus.Fields{
							"field": "createDistributionHandler",
						}).Warn("failed to release redis lock: " + releaseErr.Error())
					}
				}()
			} else if err == redislock.ErrNotObtained {
				c.JSON(http.StatusConflict, gin.H{"error": "a distribution for these packages is already in progress"})
				return
			}
		}

		ctx, span := tracer.Start(c.Request.Context(), "distribution.create")
		defer span.End()

		result, err := workflow.DistributePackages(ctx, input, userId)
		if err != nil {
			span.RecordError(err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": result.Message})
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

func getDistributionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, _, ok := requireUser(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		dist, err := models.GetDistribution(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "distribution not found"})
			return
		}
		c.JSON(http.StatusOK, dist)
	}
}

func getDistributionReceiptHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, _, ok := requireUser(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		dist, err := models.GetDistribution(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "distribution not found"})
			return
		}
		if dist.ReceiptPath == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "receipt not available yet"})
			return
		}
		url, err := utils.SignReceiptDownload(c.Request.Context(), dist.ReceiptPath, 15*time.Minute)
		if err != nil {
			// No signing credentials (local/dev): fall back to the plain
			// object URL.
			logger := config.GetLogger()
			config.LogError(logger, "server.go", "getDistributionReceiptHandler", "SignReceiptDownload", dist.ID, err)
			url = utils.BuildReceiptAccessURL(dist.ReceiptPath)
		}
		c.JSON(http.StatusOK, gin.H{"url": url})
	}
}

func createManifestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, _, ok := requireManifestManager(c); !ok {
			return
		}
		var input models.NewManifest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		manifest, err := models.CreateManifest(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, manifest)
	}
}

func manifestLockStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, role, ok := requireUser(c)
		if !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		status, err := workflow.GetManifestLockStatus(c.Request.Context(), id, role)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "manifest not found"})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func unlockManifestHandler() gin.HandlerFunc {
	type unlockRequest struct {
		Reason string `json:"reason"`
	}
	return func(c *gin.Context) {
		userId, role, ok := requireUser(c)
		if !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		var req unlockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		manifest, err := workflow.UnlockManifest(c.Request.Context(), id, userId, role, req.Reason)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, manifest)
	}
}

func closeManifestHandler() gin.HandlerFunc {
	type closeRequest struct {
		Reason string `json:"reason"`
	}
	return func(c *gin.Context) {
		userId, role, ok := requireUser(c)
		if !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		var req closeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		manifest, err := workflow.CloseManifest(c.Request.Context(), id, userId, role, req.Reason)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, manifest)
	}
}

func createBroadcastHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, _, ok := requireManifestManager(c)
		if !ok {
			return
		}
		var input models.NewBroadcast
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		broadcast, err := models.CreateBroadcast(c.Request.Context(), &input, &userId)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, broadcast)
	}
}

func getBroadcastHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, _, ok := requireUser(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		broadcast, err := models.GetBroadcast(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "broadcast not found"})
			return
		}
		c.JSON(http.StatusOK, broadcast)
	}
}

func distributionSummaryReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, _, ok := requireManifestManager(c); !ok {
			return
		}
		from, err := time.Parse("2006-01-02", c.Query("from"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from date is required (YYYY-MM-DD)"})
			return
		}
		to, err := time.Parse("2006-01-02", c.Query("to"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to date is required (YYYY-MM-DD)"})
			return
		}
		to = to.Add(24*time.Hour - time.Nanosecond)

		if c.Query("format") == "xlsx" {
			if err := reports.ExportDistributionSummaryExcel(c.Request.Context(), c.Writer, from, to); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			}
			return
		}
		rows, err := reports.GetDistributionSummaryReport(c.Request.Context(), from, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rows": rows})
	}
}

// jobPubSubHandler receives Pub/Sub push deliveries for async jobs: status
// notifications, receipt emails and broadcast deliveries. Malformed payloads
// are acked and dropped; transient failures return non-2xx so Pub/Sub
// retries.
func jobPubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var envelope PubSubPushEnvelope
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "jobPubSubHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &envelope); err != nil {
			config.LogError(logger, "server.go", "jobPubSubHandler", "Unmarshal body", body, err)
			c.Status(http.StatusNoContent)
			return
		}

		var m config.PubSubMessage
		if err := json.Unmarshal(envelope.Message.Data, &m); err != nil {
			config.LogError(logger, "server.go", "jobPubSubHandler", "Unmarshal pubsub message", envelope.Message.Data, err)
			c.Status(http.StatusNoContent)
			return
		}
		if m.JobType == "" {
			config.LogError(logger, "server.go", "jobPubSubHandler", "Invalid pubsub message (missing job_type)", m, fmt.Errorf("job_type required"))
			c.Status(http.StatusNoContent)
			return
		}

		messageId := m.ID
		if messageId == "" {
			messageId = envelope.Message.ID
		}
		correlationID := m.CorrelationId
		if correlationID == "" {
			correlationID = envelope.Message.ID
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationID)

		if err := processJobMessage(ctx, logger, m, messageId); err != nil {
			if errors.Is(err, workflow.ErrIdempotencyInProgress) {
				// Another worker holds this message; let Pub/Sub retry later.
				c.Status(http.StatusConflict)
				return
			}
			logger.WithFields(logrus.Fields{
				"field":          "jobPubSubHandler",
				"job_type":       m.JobType,
				"reference_type": m.ReferenceType,
				"reference_id":   m.ReferenceId,
				"message_id":     messageId,
				"correlation_id": correlationID,
			}).Error("pubsub processing failed: " + err.Error())
			c.Status(http.StatusInternalServerError)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

func processJobMessage(ctx context.Context, logger *logrus.Logger, m config.PubSubMessage, messageId string) error {
	db := config.GetDB()
	handlerName := "job:" + m.JobType

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skip, err := workflow.BeginIdempotency(tx, handlerName, messageId)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}

		if err := handleJob(ctx, logger, m); err != nil {
			_ = workflow.MarkIdempotencyFailed(tx, handlerName, messageId, err)
			return err
		}
		return workflow.MarkIdempotencySucceeded(tx, handlerName, messageId)
	})
}

func handleJob(ctx context.Context, logger *logrus.Logger, m config.PubSubMessage) error {
	switch m.JobType {
	case config.JobTypeStatusNotification:
		// Delivery channel (SMS/email gateway) is configured downstream;
		// here we only record that the notification went out.
		logger.WithFields(logrus.Fields{
			"field":        "handleJob",
			"job_type":     m.JobType,
			"reference_id": m.ReferenceId,
		}).Info("status notification dispatched")
		return nil
	case config.JobTypeReceiptEmail:
		return workflow.MarkReceiptEmailSentFromJob(ctx, m)
	case config.JobTypeBroadcastDelivery:
		return workflow.HandleBroadcastDeliveryJob(ctx, m)
	default:
		// Unknown job types are acked so they do not loop forever.
		logger.WithFields(logrus.Fields{
			"field":    "handleJob",
			"job_type": m.JobType,
		}).Warn("unknown job type; dropping")
		return nil
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
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

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/auth/login", loginHandler())

	r.POST("/customers", createCustomerHandler())
	r.GET("/customers/:id", getCustomerHandler())
	r.GET("/customers/:id/transactions", getCustomerLedgerHandler())

	r.POST("/packages", createPackageHandler())
	r.GET("/packages", searchPackagesHandler())
	r.GET("/packages/:id", getPackageHandler())
	r.DELETE("/packages/:id", deletePackageHandler())
	r.POST("/packages/:id/status", updatePackageStatusHandler())
	r.POST("/packages/:id/fees/preview", feePreviewHandler())
	r.POST("/packages/:id/fees", updatePackageFeesHandler())

	r.POST("/distributions", createDistributionHandler())
	r.GET("/distributions/:id", getDistributionHandler())
	r.GET("/distributions/:id/receipt", getDistributionReceiptHandler())

	r.POST("/manifests", createManifestHandler())
	r.GET("/manifests/:id/lock-status", manifestLockStatusHandler())
	r.POST("/manifests/:id/unlock", unlockManifestHandler())
	r.POST("/manifests/:id/close", closeManifestHandler())

	r.POST("/broadcasts", createBroadcastHandler())
	r.GET("/broadcasts/:id", getBroadcastHandler())

	r.GET("/reports/distribution-summary", distributionSummaryReportHandler())

	r.POST("/pubsub", jobPubSubHandler())
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start the broadcast dispatcher loop.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go runBroadcastDispatcher(dispatcherCtx, logger)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
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
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// runBroadcastDispatcher polls for due broadcast deliveries and publishes
// them until ctx is cancelled.
func runBroadcastDispatcher(ctx context.Context, logger *logrus.Logger) {
	interval := 15 * time.Second
	if v := strings.TrimSpace(os.Getenv("BROADCAST_DISPATCH_INTERVAL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			interval = time.Duration(n) * time.Second
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			published, err := workflow.DispatchDueBroadcastDeliveries(ctx, 100)
			if err != nil {
				config.LogError(logger, "server.go", "runBroadcastDispatcher", "DispatchDueBroadcastDeliveries", nil, err)
				continue
			}
			if published > 0 {
				logger.WithFields(logrus.Fields{
					"field":     "runBroadcastDispatcher",
					"published": published,
				}).Info("broadcast deliveries published")
			}
		}
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
