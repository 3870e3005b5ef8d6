package pharmasync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Gouzman/PharmaGo/config"
	"github.com/Gouzman/PharmaGo/models"
	"github.com/Gouzman/PharmaGo/utils"
)

const defaultCycleTopic = "pharmago-sync-cycles"

// PubSubPublisher emits cycle-completed events on a Pub/Sub topic.
type PubSubPublisher struct {
	topic string
}

func NewPubSubPublisher() *PubSubPublisher {
	return &PubSubPublisher{topic: utils.EnvOrDefault("PUBSUB_CYCLE_TOPIC", defaultCycleTopic)}
}

func (p *PubSubPublisher) PublishCycleRun(ctx context.Context, payload CyclePubSubPayload) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return fmt.Errorf("pubsub client: %w", err)
	}
	topic, err := config.CreateTopicIfNotExists(client, p.topic)
	if err != nil {
		return fmt.Errorf("pubsub topic %s: %w", p.topic, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	result := topic.Publish(ctx, &pubsub.Message{
		Data: body,
		Attributes: map[string]string{
			"event":  "cycle_finished",
			"status": payload.Status,
		},
	})
	_, err = result.Get(ctx)
	return err
}

// pushEnvelope is the JSON body Google wraps around push-delivered messages.
type pushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageId  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PubSubPushHandler accepts push-delivered sync requests (e.g. from Cloud
// Scheduler) and runs a cycle. Non-retryable problems return 200 so the
// subscription does not redeliver them forever.
func PubSubPushHandler(worker *Worker) gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		var envelope pushEnvelope
		if err := c.ShouldBindJSON(&envelope); err != nil {
			config.LogError(logger, "pharmasync", "PubSubPushHandler", "malformed push envelope", nil, err)
			c.JSON(http.StatusOK, gin.H{"status": "dropped"})
			return
		}

		logger.WithFields(logrus.Fields{
			"message_id":   envelope.Message.MessageId,
			"subscription": envelope.Subscription,
		}).Info("sync cycle requested via pubsub push")

		report, err := worker.RunCycle(c.Request.Context(), time.Now().UTC(), models.SyncTriggeredSystem)
		if err != nil {
			config.LogError(logger, "pharmasync", "PubSubPushHandler", "cycle failed", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, TriggerSyncResponse{Report: report})
	}
}
