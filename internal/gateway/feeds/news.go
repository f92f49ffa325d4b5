package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quorum/internal/marketctx"

	"github.com/tidwall/gjson"
)

// NewsDigest pulls recent headlines from a JSON news API. The expected
// shape is {"articles":[{"headline":...,"source":...,"published_at":...}]}
// but gjson keeps us tolerant about extra fields.
type NewsDigest struct {
	BaseURL  string
	APIKey   string
	MaxItems int
	Client   *http.Client
}

var _ marketctx.NewsSource = (*NewsDigest)(nil)

func NewNewsDigest(baseURL, apiKey string, maxItems int) *NewsDigest {
	if maxItems <= 0 {
		maxItems = 10
	}
	return &NewsDigest{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		MaxItems: maxItems,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *NewsDigest) Headlines(ctx context.Context, symbols []string) ([]marketctx.NewsItem, error) {
	if strings.TrimSpace(n.BaseURL) == "" {
		return nil, fmt.Errorf("news digest: base url not configured")
	}
	endpoint := strings.TrimRight(n.BaseURL, "/") + "/news"
	q := url.Values{}
	if len(symbols) > 0 {
		q.Set("symbols", strings.Join(symbols, ","))
	}
	q.Set("limit", fmt.Sprintf("%d", n.MaxItems))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if n.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.APIKey)
	}
	resp, err := n.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news digest: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var items []marketctx.NewsItem
	gjson.GetBytes(body, "articles").ForEach(func(_, article gjson.Result) bool {
		headline := strings.TrimSpace(article.Get("headline").String())
		if headline == "" {
			headline = strings.TrimSpace(article.Get("title").String())
		}
		if headline == "" {
			return true
		}
		item := marketctx.NewsItem{
			Headline: headline,
			Source:   article.Get("source").String(),
		}
		if ts := article.Get("published_at").String(); ts != "" {
			if t, perr := time.Parse(time.RFC3339, ts); perr == nil {
				item.PublishedAt = t
			}
		}
		items = append(items, item)
		return len(items) < n.MaxItems
	})
	return items, nil
}
