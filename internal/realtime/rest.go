package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lers-io/lers-ce/internal/models"
)

// MessageAPI is the durable side of the chat: history fetch and the persist
// half of the two-phase send.
type MessageAPI interface {
	ListMessages(ctx context.Context, requestID string) ([]*models.Message, error)
	CreateMessage(ctx context.Context, requestID, text string, attachments []models.Attachment) (*models.Message, error)
}

// NotificationAPI backs the read-state mutations and the backfill count.
type NotificationAPI interface {
	ListNotifications(ctx context.Context, limit int) ([]*models.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) (int, error)
}

// PresenceAPI is the fallback presence channel used while the socket is
// down.
type PresenceAPI interface {
	GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error)
	UpdatePresence(ctx context.Context, status string) (*models.PresenceRecord, error)
}

// RESTClient talks to the LERS REST API. It implements MessageAPI,
// NotificationAPI and PresenceAPI.
type RESTClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewRESTClient creates a client for the API at baseURL, authenticating
// with the same access token the session uses.
func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// ListMessages fetches the full history for a request, oldest first.
func (c *RESTClient) ListMessages(ctx context.Context, requestID string) ([]*models.Message, error) {
	var out struct {
		Messages []*models.Message `json:"messages"`
	}
	path := "/api/v1/lers/requests/" + url.PathEscape(requestID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// CreateMessage persists a message and returns the canonical record with
// its server-issued id.
func (c *RESTClient) CreateMessage(ctx context.Context, requestID, text string, attachments []models.Attachment) (*models.Message, error) {
	body := map[string]any{"message_text": text}
	if len(attachments) > 0 {
		body["attachments"] = attachments
	}
	var msg models.Message
	path := "/api/v1/lers/requests/" + url.PathEscape(requestID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListNotifications fetches the most recent notifications for the caller.
func (c *RESTClient) ListNotifications(ctx context.Context, limit int) ([]*models.Notification, error) {
	var out struct {
		Notifications []*models.Notification `json:"notifications"`
	}
	path := fmt.Sprintf("/api/v1/lers/notifications?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Notifications, nil
}

// UnreadCount fetches the caller's unread notification count.
func (c *RESTClient) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/lers/notifications/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// MarkNotificationRead marks one notification read.
func (c *RESTClient) MarkNotificationRead(ctx context.Context, id string) error {
	path := "/api/v1/lers/notifications/" + url.PathEscape(id) + "/read"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// MarkAllNotificationsRead marks every unread notification read and returns
// how many flipped.
func (c *RESTClient) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	var out struct {
		Marked int `json:"marked"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/lers/notifications/read-all", nil, &out); err != nil {
		return 0, err
	}
	return out.Marked, nil
}

// GetPresence fetches one user's presence record.
func (c *RESTClient) GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error) {
	var rec models.PresenceRecord
	path := "/api/v1/lers/presence/" + url.PathEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdatePresence updates the caller's own status over REST.
func (c *RESTClient) UpdatePresence(ctx context.Context, status string) (*models.PresenceRecord, error) {
	var rec models.PresenceRecord
	body := map[string]string{"status": status}
	if err := c.do(ctx, http.MethodPut, "/api/v1/lers/presence", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
