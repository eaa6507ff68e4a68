package deliverable

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Snapshot is what the probe saw at the deliverable URL. It is advisory
// context for the reviewing client; the deliverable hash in the milestone
// record stays the binding reference.
type Snapshot struct {
	URL         string    `json:"url"`
	Reachable   bool      `json:"reachable"`
	StatusCode  int       `json:"status_code,omitempty"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Probe fetches deliverable URLs when milestones are submitted.
type Probe struct {
	httpClient *http.Client
	log        *zap.Logger
	maxRetries int
}

func NewProbe(timeoutMS, maxRetries int, log *zap.Logger) *Probe {
	return &Probe{
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		},
		log:        log,
		maxRetries: maxRetries,
	}
}

// Fetch retrieves the deliverable page and extracts title metadata. A
// non-2xx response or dead host yields Reachable=false, not an error; probe
// failures must never block a submission.
func (p *Probe) Fetch(ctx context.Context, rawURL string) (*Snapshot, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("deliverable url must be http(s): %q", rawURL)
	}

	snap := &Snapshot{URL: rawURL, FetchedAt: time.Now()}

	var resp *http.Response
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err = p.httpClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		p.log.Debug("deliverable unreachable", zap.String("url", rawURL), zap.Error(lastErr))
		return snap, nil
	}
	defer resp.Body.Close()

	snap.StatusCode = resp.StatusCode
	snap.ContentType = resp.Header.Get("Content-Type")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return snap, nil
	}
	snap.Reachable = true

	if !strings.Contains(snap.ContentType, "text/html") {
		return snap, nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		p.log.Debug("deliverable parse failed", zap.String("url", rawURL), zap.Error(err))
		return snap, nil
	}

	snap.Title = extractTitle(doc)
	snap.Description = extractDescription(doc)
	return snap, nil
}

func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return clip(strings.TrimSpace(og), 200)
	}
	return clip(strings.TrimSpace(doc.Find("title").First().Text()), 200)
}

func extractDescription(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return clip(strings.TrimSpace(og), 500)
	}
	if d, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		return clip(strings.TrimSpace(d), 500)
	}
	return ""
}

func clip(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
