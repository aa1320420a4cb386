package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"league-roster-system/models"

	"gorm.io/gorm"
)

// MeritSyncClient pulls merit scores from the scoring service. The scores
// drive team selection and the waitlist ranking, so they are mirrored
// locally rather than fetched per request.
type MeritSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewMeritSyncClient(db *gorm.DB, scoringServiceURL, serviceToken string) *MeritSyncClient {
	return &MeritSyncClient{
		BaseURL: scoringServiceURL,
		Token:   serviceToken,
		DB:      db,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type MeritScoreChange struct {
	ExternalUserID string    `json:"external_user_id"`
	MeritScore     float64   `json:"merit_score"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (c *MeritSyncClient) GetChangedScores(ctx context.Context, since time.Time) ([]MeritScoreChange, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/merit-scores", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse scoring service URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call scoring service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("scoring service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Scores []MeritScoreChange `json:"scores"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode scoring service response: %w", err)
	}
	return response.Scores, nil
}

// applyScores writes score changes onto mirrored players. Scores for players
// we have not mirrored yet are skipped — the profile sync will bring the
// player in and the next score change catches them up.
func (c *MeritSyncClient) applyScores(scores []MeritScoreChange) (updated, skipped int, err error) {
	for _, sc := range scores {
		res := c.DB.Model(&models.Player{}).
			Where("external_user_id = ?", sc.ExternalUserID).
			Update("merit_score", sc.MeritScore)
		if res.Error != nil {
			return updated, skipped, fmt.Errorf("apply merit score for %s: %w", sc.ExternalUserID, res.Error)
		}
		if res.RowsAffected == 0 {
			skipped++
		} else {
			updated++
		}
	}
	return updated, skipped, nil
}

// PollMeritScores keeps the local merit mirror fresh. A failed window is
// retried on the next tick — the watermark only advances after a clean apply.
func PollMeritScores(ctx context.Context, client *MeritSyncClient, pollInterval time.Duration) {
	log.Println("Starting merit score polling...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Merit score polling stopped.")
			return
		case <-ticker.C:
			logTime := time.Now().UTC()

			scores, err := client.GetChangedScores(ctx, lastSyncTime)
			if err != nil {
				log.Printf("❌ Error polling merit scores: %v", err)
				continue
			}
			if len(scores) == 0 {
				continue
			}

			updated, skipped, err := client.applyScores(scores)
			if err != nil {
				log.Printf("❌ Failed to apply merit scores: %v", err)
				continue
			}

			lastSyncTime = logTime
			log.Printf("📥 Applied %d merit score change(s), %d unknown player(s) skipped", updated, skipped)
		}
	}
}
