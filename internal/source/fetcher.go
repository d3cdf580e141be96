package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"trackersync/internal/credentials"
	"trackersync/internal/domain"
)

const (
	defaultBaseURL   = "https://rutracker.org/forum/"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	defaultTimeout   = 15 * time.Second
	downloadLinkSel  = "a.dl-link"
	maxBodyBytes     = 16 << 20
)

// FetchError reports which step of a fetch failed.
type FetchError struct {
	ReleaseID string
	Reason    domain.FailureReason
	Err       error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch release %s: %s", e.ReleaseID, e.Reason)
	}
	return fmt.Sprintf("fetch release %s: %s: %v", e.ReleaseID, e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Artifact is a downloaded torrent file together with the page it came from.
type Artifact struct {
	Data      []byte
	Filename  string
	SourceURL string
}

// Fetcher retrieves the current torrent file for a release.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (Artifact, error)
}

type Config struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	MinInterval time.Duration
	HTTPClient  *http.Client
	Logger      *logrus.Logger
}

type fetcher struct {
	cfg     Config
	base    *url.URL
	creds   credentials.Loader
	http    *http.Client
	limiter *rate.Limiter
	maxBody int64
}

func NewFetcher(cfg Config, creds credentials.Loader) (Fetcher, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse source base url %q: %w", cfg.BaseURL, err)
	}
	if creds == nil {
		return nil, errors.New("credentials loader is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	return &fetcher{
		cfg:     cfg,
		base:    base,
		creds:   creds,
		http:    client,
		limiter: rate.NewLimiter(limit, 1),
		maxBody: maxBodyBytes,
	}, nil
}

// PageURL returns the topic page URL for id under base.
func PageURL(base *url.URL, id string) *url.URL {
	return base.ResolveReference(&url.URL{Path: "viewtopic.php", RawQuery: url.Values{"t": {id}}.Encode()})
}

func (f *fetcher) Fetch(ctx context.Context, id string) (Artifact, error) {
	logger := f.cfg.Logger.WithField("release_id", id)

	creds, err := f.creds.Load()
	if err != nil {
		return Artifact{}, &FetchError{ReleaseID: id, Reason: domain.ReasonNoCredentials, Err: err}
	}
	cookies := creds.Cookies()

	pageURL := PageURL(f.base, id)
	logger.Debugf("fetching page %s", pageURL)
	page, _, err := f.get(ctx, pageURL.String(), cookies)
	if err != nil {
		return Artifact{}, &FetchError{ReleaseID: id, Reason: domain.ReasonPageUnreachable, Err: err}
	}

	href, err := findDownloadLink(page)
	if err != nil {
		return Artifact{}, &FetchError{ReleaseID: id, Reason: domain.ReasonLinkNotFound, Err: err}
	}
	linkURL, err := pageURL.Parse(href)
	if err != nil {
		return Artifact{}, &FetchError{ReleaseID: id, Reason: domain.ReasonLinkNotFound, Err: fmt.Errorf("parse link %q: %w", href, err)}
	}

	logger.Debugf("fetching artifact %s", linkURL)
	data, header, err := f.get(ctx, linkURL.String(), cookies)
	if err != nil {
		return Artifact{}, &FetchError{ReleaseID: id, Reason: domain.ReasonArtifactUnreachable, Err: err}
	}

	return Artifact{
		Data:      data,
		Filename:  filenameFromHeader(header.Get("Content-Disposition"), id),
		SourceURL: pageURL.String(),
	}, nil
}

func (f *fetcher) get(ctx context.Context, rawURL string, cookies []*http.Cookie) ([]byte, http.Header, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("wait for request slot: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, fmt.Errorf("%s returned status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, nil, fmt.Errorf("%s: response too large (over %d bytes)", rawURL, f.maxBody)
	}
	return body, resp.Header, nil
}

func findDownloadLink(page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	href, ok := doc.Find(downloadLinkSel).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", fmt.Errorf("no %s anchor on page", downloadLinkSel)
	}
	return strings.TrimSpace(href), nil
}

func filenameFromHeader(disposition, id string) string {
	fallback := fmt.Sprintf("torrent_%s.torrent", id)
	if disposition == "" {
		return fallback
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return fallback
	}
	name := path.Base(strings.ReplaceAll(params["filename"], `\`, "/"))
	if name == "" || name == "." || name == "/" {
		return fallback
	}
	return name
}

var _ Fetcher = (*fetcher)(nil)
