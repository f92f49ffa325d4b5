package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"quorum/internal/marketctx"

	"github.com/tidwall/gjson"
)

// SentimentFeed reads a fear-and-greed style index: a score in [0, 100]
// plus a label. Responses are cached because the upstream updates slowly.
type SentimentFeed struct {
	BaseURL string
	TTL     time.Duration
	Client  *http.Client

	mu      sync.Mutex
	score   float64
	label   string
	fetched time.Time
}

var _ marketctx.SentimentSource = (*SentimentFeed)(nil)

func NewSentimentFeed(baseURL string, ttl time.Duration) *SentimentFeed {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SentimentFeed{
		BaseURL: baseURL,
		TTL:     ttl,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SentimentFeed) Score(ctx context.Context) (float64, string, error) {
	if strings.TrimSpace(s.BaseURL) == "" {
		return 0, "", fmt.Errorf("sentiment feed: base url not configured")
	}
	s.mu.Lock()
	if !s.fetched.IsZero() && time.Since(s.fetched) < s.TTL {
		score, label := s.score, s.label
		s.mu.Unlock()
		return score, label, nil
	}
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("sentiment feed: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<18))
	if err != nil {
		return 0, "", err
	}

	doc := gjson.ParseBytes(body)
	score := doc.Get("data.0.value").Float()
	label := doc.Get("data.0.value_classification").String()
	if score == 0 && label == "" {
		score = doc.Get("score").Float()
		label = doc.Get("rating").String()
	}
	if score < 0 || score > 100 {
		return 0, "", fmt.Errorf("sentiment feed: score %v out of range", score)
	}

	s.mu.Lock()
	s.score, s.label, s.fetched = score, label, time.Now()
	s.mu.Unlock()
	return score, label, nil
}
