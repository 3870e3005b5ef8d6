package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Gouzman/PharmaGo/config"
	"github.com/Gouzman/PharmaGo/geodata"
	"github.com/Gouzman/PharmaGo/models"
	"github.com/Gouzman/PharmaGo/pharmasync"
	"github.com/Gouzman/PharmaGo/reconcile"
	"github.com/Gouzman/PharmaGo/roster"
	"github.com/Gouzman/PharmaGo/snapshot"
	"github.com/Gouzman/PharmaGo/utils"
)

const defaultPort = "8080"

func listPharmaciesHandler() gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		pharmacies, err := models.GetPharmacies(c.Request.Context())
		if err != nil {
			config.LogError(logger, "server.go", "listPharmaciesHandler", "query failed", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pharmacies"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pharmacies": pharmacies})
	}
}

func getPharmacyHandler() gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		p, err := models.GetPharmacy(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "pharmacy not found"})
				return
			}
			config.LogError(logger, "server.go", "getPharmacyHandler", "query failed", gin.H{"id": c.Param("id")}, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load pharmacy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pharmacy": p})
	}
}

func listGuardPharmaciesHandler() gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		pharmacies, err := models.GetGuardPharmacies(c.Request.Context())
		if err != nil {
			config.LogError(logger, "server.go", "listGuardPharmaciesHandler", "query failed", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list guard pharmacies"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pharmacies": pharmacies})
	}
}

func listByCommuneHandler() gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		pharmacies, err := models.GetPharmaciesByCommune(c.Request.Context(), c.Param("commune"))
		if err != nil {
			config.LogError(logger, "server.go", "listByCommuneHandler", "query failed", gin.H{"commune": c.Param("commune")}, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pharmacies"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pharmacies": pharmacies})
	}
}

func nearbyHandler() gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
		lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
		if errLat != nil || errLng != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required"})
			return
		}
		radiusKm := 5.0
		if v := c.Query("radius"); v != "" {
			r, err := strconv.ParseFloat(v, 64)
			if err != nil || r <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "radius must be a positive number of kilometers"})
				return
			}
			radiusKm = r
		}

		pharmacies, err := models.GetPharmacies(c.Request.Context())
		if err != nil {
			config.LogError(logger, "server.go", "nearbyHandler", "query failed", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pharmacies"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pharmacies": reconcile.Nearby(pharmacies, lat, lng, radiusKm)})
	}
}

func latestSnapshotHandler() gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		doc, err := snapshot.Latest(c.Request.Context())
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot published yet"})
				return
			}
			config.LogError(logger, "server.go", "latestSnapshotHandler", "query failed", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load snapshot"})
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

func historyHandler() gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		entries, err := models.GetPharmacyHistories(c.Request.Context(), c.Param("id"))
		if err != nil {
			config.LogError(logger, "server.go", "historyHandler", "query failed", gin.H{"id": c.Param("id")}, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// customErrorLogger logs request-scoped gin errors only.
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
	// are ready, app endpoints return 503.
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
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS
	// (comma-separated); in non-production allow all.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	worker := pharmasync.NewWorker(
		pharmasync.GormStore{},
		geodata.NewClient(),
		roster.NewClient(),
		snapshot.NewPublisher(nil),
		pharmasync.NewPubSubPublisher(),
	)

	api := r.Group("/api")
	{
		api.GET("/pharmacies", listPharmaciesHandler())
		api.GET("/pharmacies/guard", listGuardPharmaciesHandler())
		api.GET("/pharmacies/nearby", nearbyHandler())
		api.GET("/pharmacies/commune/:commune", listByCommuneHandler())
		api.GET("/pharmacies/latest", latestSnapshotHandler())
		api.GET("/pharmacies/:id", getPharmacyHandler())
		api.GET("/pharmacies/:id/history", historyHandler())
	}

	admin := r.Group("/internal")
	{
		admin.POST("/sync", pharmasync.TriggerSyncHandler(worker))
		admin.GET("/sync/runs", pharmasync.ListSyncRunsHandler())
		admin.GET("/sync/runs/:id", pharmasync.GetSyncRunHandler())
		admin.GET("/review", pharmasync.ReviewQueueHandler())
		admin.POST("/review/:id/validate", pharmasync.ValidateHistoryHandler())
	}

	// Scheduler-driven cycles arrive as Pub/Sub push deliveries.
	r.POST("/pubsub", pharmasync.PubSubPushHandler(worker))
	r.NoRoute(customNotFoundHandler)

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

	logger.WithFields(logrus.Fields{"port": port}).Info("pharmago api ready")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
