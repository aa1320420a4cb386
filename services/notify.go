package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Notifier delivers player-facing events to the notification service.
type Notifier interface {
	Send(userID, event, message string, meta map[string]interface{}) error
}

type HTTPNotifier struct {
	BaseURL string
	Token   string
	Client  *http.Client

	limiter *rate.Limiter
}

func NewHTTPNotifier(baseURL, token string, perSecond float64) *HTTPNotifier {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &HTTPNotifier{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Send posts one event to the notification service. Calls are rate limited
// so a completion fanning out to a full roster cannot flood the downstream.
func (n *HTTPNotifier) Send(userID, event, message string, meta map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/internal/notifications", n.BaseURL)
	reqBody := map[string]interface{}{
		"user_id": userID,
		"event":   event,
		"message": message,
	}
	if meta != nil {
		reqBody["meta"] = meta
	}
	jsonData, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.Token)

	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		log.Printf("NotifyService returned %d: %s", resp.StatusCode, string(body))
		return fmt.Errorf("notification delivery failed: %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes events to the process log. Used when no notification
// service is configured, and in tests.
type LogNotifier struct{}

func (LogNotifier) Send(userID, event, message string, meta map[string]interface{}) error {
	log.Printf("🔔 [NOTIFY] %s → %s: %s", event, userID, message)
	return nil
}

// notifyQuietly delivers best-effort: roster state changes must never fail
// because the notification service is down.
func notifyQuietly(n Notifier, userID, event, message string, meta map[string]interface{}) {
	if n == nil || userID == "" {
		return
	}
	if err := n.Send(userID, event, message, meta); err != nil {
		log.Printf("⚠️ [NOTIFY] Failed to deliver %s to %s: %v", event, userID, err)
	}
}
