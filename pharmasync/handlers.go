package pharmasync

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"

	"github.com/Gouzman/PharmaGo/config"
	"github.com/Gouzman/PharmaGo/models"
	"github.com/Gouzman/PharmaGo/utils"
)

const (
	cycleLockKey = "pharmago:sync-cycle-lock"
	cycleLockTTL = 30 * time.Minute
)

// ErrCycleInProgress is returned when another process holds the cycle lock.
var ErrCycleInProgress = errors.New("a reconciliation cycle is already running")

// RunCycleLocked wraps RunCycle in the distributed cycle lock so overlapping
// triggers (scheduler plus manual) cannot run two cycles at once. Without a
// Redis connection the lock degrades to a no-op.
func RunCycleLocked(ctx context.Context, worker *Worker, now time.Time, triggeredBy string) (*CycleReport, error) {
	locker := config.GetRedisLock()
	if locker != nil {
		lock, err := locker.Obtain(ctx, cycleLockKey, cycleLockTTL, nil)
		if err != nil {
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, ErrCycleInProgress
			}
			return nil, err
		}
		defer lock.Release(ctx)
	}
	return worker.RunCycle(ctx, now, triggeredBy)
}

// TriggerSyncHandler runs a cycle synchronously and returns its report.
func TriggerSyncHandler(worker *Worker) gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		var req TriggerSyncRequest
		_ = c.ShouldBindJSON(&req)
		triggeredBy := req.TriggeredBy
		if triggeredBy == "" {
			triggeredBy = models.SyncTriggeredManual
		}

		report, err := RunCycleLocked(c.Request.Context(), worker, time.Now().UTC(), triggeredBy)
		if err != nil {
			if errors.Is(err, ErrCycleInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			config.LogError(logger, "pharmasync", "TriggerSyncHandler", "cycle failed", gin.H{"correlation_id": cid}, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, TriggerSyncResponse{Report: report})
	}
}

func ListSyncRunsHandler() gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		runs, err := models.GetSyncRuns(c.Request.Context(), limit)
		if err != nil {
			config.LogError(logger, "pharmasync", "ListSyncRunsHandler", "query failed", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sync runs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}

func GetSyncRunHandler() gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		run, issues, err := models.GetSyncRun(c.Request.Context(), uint(id))
		if err != nil {
			config.LogError(logger, "pharmasync", "GetSyncRunHandler", "query failed", gin.H{"id": id}, err)
			c.JSON(http.StatusNotFound, gin.H{"error": "sync run not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"run": run, "issues": issues})
	}
}

// ReviewQueueHandler lists unmatched and conflict entries awaiting validation.
func ReviewQueueHandler() gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		entries, err := models.GetHistoriesNeedingReview(c.Request.Context())
		if err != nil {
			config.LogError(logger, "pharmasync", "ReviewQueueHandler", "query failed", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load review queue"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}

func ValidateHistoryHandler() gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		var req ValidateHistoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validated_by is required"})
			return
		}
		ctx := utils.SetActorInContext(c.Request.Context(), req.ValidatedBy)
		entry, err := models.ValidateHistoryEntry(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "history entry not found"})
				return
			}
			config.LogError(logger, "pharmasync", "ValidateHistoryHandler", "validation failed", gin.H{"id": c.Param("id")}, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to validate entry"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entry": entry})
	}
}
