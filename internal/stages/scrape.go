package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
)

type PageScraperConfig struct {
	Timeout      time.Duration
	RatePerSec   float64
	UserAgent    string
	MaxTextBytes int
	MaxBodyBytes int64
}

// PageScraper fetches a recipe web page. Pages that embed a schema.org
// Recipe come back pre-structured; other pages come back as visible text.
type PageScraper struct {
	cfg     PageScraperConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewPageScraper(cfg PageScraperConfig) *PageScraper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; RecetteBot/1.0)"
	}
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = 15000
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 5 << 20
	}
	return &PageScraper{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}
}

func (s *PageScraper) Fetch(ctx context.Context, sourceURL string) (*RawContent, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, common.NewStageError(common.KindOf(ctx.Err()), "gave up waiting to fetch the page", err)
	}

	stageCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(stageCtx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, common.NewStageError(common.KindUnsupportedSource, "invalid page address", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		if cerr := common.FromContext(ctx, stageCtx, "page fetch"); cerr != nil {
			return nil, cerr
		}
		var ue *url.Error
		if errors.As(err, &ue) && ue.Timeout() {
			return nil, common.NewStageError(common.KindTimeout, "page fetch timed out", err)
		}
		return nil, common.NewStageError(common.KindNetwork, "could not reach the page", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return nil, err
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, _ := mime.ParseMediaType(ct)
		if mt != "text/html" && mt != "application/xhtml+xml" {
			return nil, common.NewStageError(common.KindContentUnavailable, fmt.Sprintf("page is %s, not HTML", mt), nil)
		}
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		if cerr := common.FromContext(ctx, stageCtx, "page fetch"); cerr != nil {
			return nil, cerr
		}
		return nil, common.NewStageError(common.KindNetwork, "failed to read the page", err)
	}

	page := parsePage(doc, s.cfg.MaxTextBytes)
	raw := &RawContent{
		SourceURL:  sourceURL,
		Title:      page.title,
		Text:       page.text,
		Structured: page.recipe,
	}
	if raw.Structured == nil && strings.TrimSpace(raw.Text) == "" {
		return nil, common.NewStageError(common.KindContentUnavailable, "the page has no readable content", nil)
	}

	slog.Info("page scraped",
		"url", sourceURL,
		"title", raw.Title,
		"structured", raw.Structured != nil,
		"text_bytes", len(raw.Text),
		"took", time.Since(start).Round(time.Millisecond))
	return raw, nil
}

func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return common.NewStageError(common.KindContentUnavailable, "the page does not exist", nil)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return common.NewStageError(common.KindTimeout, fmt.Sprintf("page host timed out (%d)", code), nil)
	case code == http.StatusTooManyRequests || code >= 500:
		return common.NewStageError(common.KindNetwork, fmt.Sprintf("page host returned %d", code), nil)
	default:
		return common.NewStageError(common.KindContentUnavailable, fmt.Sprintf("page host returned %d", code), nil)
	}
}
