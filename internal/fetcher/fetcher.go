// Package fetcher builds link-preview cards for URLs found in entry text.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pbaille/canvas/internal/domain"
	"golang.org/x/net/html"
	"golang.org/x/sync/singleflight"
)

// ErrNoPreview means the page had nothing worth showing
var ErrNoPreview = errors.New("no preview available")

const (
	maxBody        = 5 * 1024 * 1024
	maxDescription = 300
	userAgent      = "canvas/1.0 (link-preview)"
)

// Previewer fetches and caches link previews. Misses are cached too so a
// dead link is not fetched again on every commit.
type Previewer struct {
	client *http.Client
	cache  *lru.Cache[string, *domain.LinkCard]
	group  singleflight.Group
	log    *slog.Logger
}

// New creates a Previewer with an LRU of cacheSize entries
func New(cacheSize int, logger *slog.Logger) (*Previewer, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, *domain.LinkCard](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create preview cache: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Previewer{
		client: &http.Client{Timeout: 10 * time.Second},
		cache:  cache,
		log:    logger,
	}, nil
}

// Preview returns the link card for rawURL. Concurrent calls for the same URL
// share one fetch.
func (p *Previewer) Preview(ctx context.Context, rawURL string) (*domain.LinkCard, error) {
	u, err := normalize(rawURL)
	if err != nil {
		return nil, err
	}
	key := u.String()
	if card, ok := p.cache.Get(key); ok {
		if card == nil {
			return nil, ErrNoPreview
		}
		c := *card
		return &c, nil
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		card, err := p.fetch(ctx, u)
		if err != nil {
			p.log.Debug("link preview failed", "url", key, "err", err)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			p.cache.Add(key, nil)
			return nil, err
		}
		p.cache.Add(key, card)
		return card, nil
	})
	if err != nil {
		return nil, err
	}
	c := *v.(*domain.LinkCard)
	return &c, nil
}

func (p *Previewer) fetch(ctx context.Context, u *url.URL) (*domain.LinkCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	card := parsePreview(string(body), resp.Request.URL)
	card.URL = u.String()
	if card.Title == "" && card.Description == "" && card.Image == "" {
		return nil, ErrNoPreview
	}
	return card, nil
}

// parsePreview reads OpenGraph tags, falling back to <title>, the meta
// description, and finally the page's readable text.
func parsePreview(htmlContent string, base *url.URL) *domain.LinkCard {
	card := &domain.LinkCard{}
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return card
	}

	var title, metaDesc string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				key := strings.ToLower(attr(n, "property"))
				if key == "" {
					key = strings.ToLower(attr(n, "name"))
				}
				content := strings.TrimSpace(attr(n, "content"))
				switch key {
				case "og:title":
					card.Title = content
				case "og:image":
					card.Image = resolve(base, content)
				case "og:site_name":
					card.SiteName = content
				case "og:description":
					card.Description = content
				case "description":
					metaDesc = content
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if card.Title == "" {
		card.Title = title
	}
	if card.Description == "" {
		card.Description = metaDesc
	}
	if card.Description == "" {
		card.Description = extractText(doc)
	}
	if card.SiteName == "" && base != nil {
		card.SiteName = strings.TrimPrefix(base.Hostname(), "www.")
	}
	card.Description = truncate(card.Description, maxDescription)
	return card
}

// extractText returns the readable text of a parsed page
func extractText(doc *html.Node) string {
	var sb strings.Builder
	var extract func(*html.Node)

	// Tags to skip (non-content)
	skipTags := map[string]bool{
		"script": true, "style": true, "nav": true,
		"header": true, "footer": true, "aside": true,
		"noscript": true, "iframe": true, "title": true, "head": true,
	}

	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(doc)

	return strings.Join(strings.Fields(sb.String()), " ")
}

var urlPattern = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"']+`)

// ExtractURLs returns the distinct URLs in text, in order of appearance
func ExtractURLs(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range urlPattern.FindAllString(text, -1) {
		m = strings.TrimRight(m, ".,;:!?)]}")
		key := strings.ToLower(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

// IsURL checks if a string looks like a URL
func IsURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "www.")
}

// StripURLs removes URLs from text, leaving the surrounding words
func StripURLs(text string) string {
	return strings.Join(strings.Fields(urlPattern.ReplaceAllString(text, "")), " ")
}

func normalize(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if strings.HasPrefix(strings.ToLower(rawURL), "www.") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid URL: missing host")
	}
	return u, nil
}

func resolve(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// Canonical returns the form of rawURL used as a link card key
func Canonical(rawURL string) string {
	u, err := normalize(rawURL)
	if err != nil {
		return strings.TrimSpace(rawURL)
	}
	return u.String()
}
