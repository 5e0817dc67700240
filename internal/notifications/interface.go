package notifications

import (
	"context"
	"errors"

	"github.com/azure/arxiv-poster-bot/internal/models"
)

// ErrInvalidChannel means the target channel does not exist or cannot be resolved.
// It is a configuration error, not a transient publish failure.
var ErrInvalidChannel = errors.New("invalid target channel")

// Publisher posts a formatted message to a chat channel
type Publisher interface {
	Publish(ctx context.Context, channelID string, msg models.Message) error
}

// NotificationInterface defines the contract for operator notifications
type NotificationInterface interface {
	SendReport(report *models.Report) error
	SendAlert(alert *models.Alert) error
}
