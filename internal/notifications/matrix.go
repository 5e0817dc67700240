package notifications

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MatrixPublisher sends messages to a Matrix room through the client-server API
type MatrixPublisher struct {
	client     *resty.Client
	homeserver string

	mu    sync.Mutex
	rooms map[string]string // alias -> room id
}

// Ensure MatrixPublisher implements Publisher
var _ Publisher = (*MatrixPublisher)(nil)

type matrixError struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
}

type roomAliasResponse struct {
	RoomID string `json:"room_id"`
}

type sendResponse struct {
	EventID string `json:"event_id"`
}

// NewMatrixPublisher creates a publisher authenticated with an access token
func NewMatrixPublisher(homeserver, accessToken string) *MatrixPublisher {
	return &MatrixPublisher{
		client: resty.New().
			SetTimeout(30*time.Second).
			SetAuthToken(accessToken).
			SetHeader("Content-Type", "application/json"),
		homeserver: strings.TrimSuffix(homeserver, "/"),
		rooms:      make(map[string]string),
	}
}

// Publish sends msg to channelID, which may be a room id (!abc:server) or an alias (#name:server)
func (m *MatrixPublisher) Publish(ctx context.Context, channelID string, msg models.Message) error {
	roomID, err := m.resolve(ctx, channelID)
	if err != nil {
		return err
	}

	var result sendResponse
	var apiErr matrixError
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"msgtype":        "m.text",
			"body":           msg.Text,
			"format":         "org.matrix.custom.html",
			"formatted_body": msg.HTML,
		}).
		SetResult(&result).
		SetError(&apiErr).
		Put(fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
			m.homeserver, url.PathEscape(roomID), uuid.NewString()))
	if err != nil {
		return fmt.Errorf("matrix send: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusForbidden || resp.StatusCode() == http.StatusNotFound:
		m.forget(channelID)
		return fmt.Errorf("%w: %s: %s %s", ErrInvalidChannel, channelID, apiErr.ErrCode, apiErr.Error)
	case resp.IsError():
		return fmt.Errorf("matrix send returned status %d: %s %s", resp.StatusCode(), apiErr.ErrCode, apiErr.Error)
	case result.EventID == "":
		return fmt.Errorf("matrix send returned no event id")
	}

	logrus.Debugf("Posted event %s to %s", result.EventID, channelID)
	return nil
}

func (m *MatrixPublisher) resolve(ctx context.Context, channelID string) (string, error) {
	switch {
	case strings.HasPrefix(channelID, "!"):
		return channelID, nil
	case !strings.HasPrefix(channelID, "#"):
		return "", fmt.Errorf("%w: %q is neither a room id nor an alias", ErrInvalidChannel, channelID)
	}

	m.mu.Lock()
	roomID, ok := m.rooms[channelID]
	m.mu.Unlock()
	if ok {
		return roomID, nil
	}

	var result roomAliasResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetResult(&result).
		Get(fmt.Sprintf("%s/_matrix/client/v3/directory/room/%s", m.homeserver, url.PathEscape(channelID)))
	if err != nil {
		return "", fmt.Errorf("resolve room alias: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return "", fmt.Errorf("%w: alias %s not found", ErrInvalidChannel, channelID)
	}
	if resp.IsError() || result.RoomID == "" {
		return "", fmt.Errorf("resolve room alias %s returned status %d", channelID, resp.StatusCode())
	}

	m.mu.Lock()
	m.rooms[channelID] = result.RoomID
	m.mu.Unlock()
	return result.RoomID, nil
}

func (m *MatrixPublisher) forget(channelID string) {
	m.mu.Lock()
	delete(m.rooms, channelID)
	m.mu.Unlock()
}
