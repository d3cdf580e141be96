package downloadclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	// ErrGatewayUnavailable means the client API could not be reached or refused the session.
	ErrGatewayUnavailable = errors.New("download client unavailable")
	// ErrSubmitRejected means the client answered but refused the torrent.
	ErrSubmitRejected = errors.New("download client rejected torrent")
	// ErrNotFound means no remote entry matches. Callers removing entries treat it as success.
	ErrNotFound = errors.New("remote torrent not found")

	errResponseTooLarge = errors.New("response too large")
)

// Submission is one torrent file handed to the download client. InfoHash is
// used to recognise a torrent the client already has.
type Submission struct {
	Data     []byte
	Filename string
	SavePath string
	Tag      string
	InfoHash string
}

// Gateway is the subset of the download client API the sync engine relies on.
type Gateway interface {
	Submit(ctx context.Context, sub Submission) error
	// FindByTag is an approximate correlation: it scans every remote entry in
	// listing order and returns the first whose comment or one of whose tags
	// equals tag exactly. qBittorrent splits tags on commas, so a tag
	// containing a comma only ever matches a comment.
	FindByTag(ctx context.Context, tag string) (string, error)
	Delete(ctx context.Context, handle string, purgeFiles bool) error
}

type Config struct {
	Host     string
	Username string
	Password string
	Timeout  time.Duration
	Logger   *logrus.Logger
}

// Client talks to the qBittorrent WebUI API v2.
type Client struct {
	cfg     Config
	baseURL *url.URL
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[string]
	maxBody int64
}

const (
	defaultHost    = "localhost:8080"
	defaultTimeout = 15 * time.Second
	breakerName    = "qbittorrent"
	maxBodyBytes   = 32 << 20
)

func NewClient(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	base, err := parseBaseURL(cfg.Host)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	logger := cfg.Logger
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrGatewayUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithField("breaker", name).Warnf("download client breaker %s -> %s", from, to)
		},
	})

	return &Client{
		cfg:     cfg,
		baseURL: base,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
		},
		cb:      cb,
		maxBody: maxBodyBytes,
	}, nil
}

func (c *Client) Submit(ctx context.Context, sub Submission) error {
	if len(sub.Data) == 0 {
		return fmt.Errorf("%w: empty torrent file", ErrSubmitRejected)
	}
	_, err := c.execute(ctx, func(ctx context.Context) (string, error) {
		body, contentType, err := submissionBody(sub)
		if err != nil {
			return "", err
		}
		resp, text, err := c.send(ctx, http.MethodPost, "/api/v2/torrents/add", body, contentType)
		if err != nil {
			return "", transportError(err)
		}
		failed := strings.EqualFold(strings.TrimSpace(text), "Fails.")
		switch {
		case resp.StatusCode == http.StatusOK && !failed:
			return "", nil
		case resp.StatusCode == http.StatusOK && sub.InfoHash != "":
			// qBittorrent answers Fails. for a torrent it already has.
			present, err := c.hasTorrent(ctx, sub.InfoHash)
			if err != nil {
				return "", err
			}
			if present {
				c.cfg.Logger.WithField("info_hash", sub.InfoHash).Info("torrent already present in download client")
				return "", nil
			}
			return "", fmt.Errorf("%w: status %d: %s", ErrSubmitRejected, resp.StatusCode, strings.TrimSpace(text))
		case resp.StatusCode >= 500:
			return "", unavailable(fmt.Errorf("add returned status %d", resp.StatusCode))
		default:
			return "", fmt.Errorf("%w: status %d: %s", ErrSubmitRejected, resp.StatusCode, strings.TrimSpace(text))
		}
	})
	return err
}

type torrentInfo struct {
	Hash     string `json:"hash"`
	Name     string `json:"name"`
	Comment  string `json:"comment"`
	Tags     string `json:"tags"`
	SavePath string `json:"save_path"`
}

func (c *Client) FindByTag(ctx context.Context, tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", ErrNotFound
	}
	return c.execute(ctx, func(ctx context.Context) (string, error) {
		torrents, err := c.listTorrents(ctx, nil)
		if err != nil {
			return "", err
		}
		for _, t := range torrents {
			if matchesTag(t, tag) {
				return t.Hash, nil
			}
		}
		return "", ErrNotFound
	})
}

// hasTorrent reports whether the client holds a torrent with the given info hash.
func (c *Client) hasTorrent(ctx context.Context, infoHash string) (bool, error) {
	torrents, err := c.listTorrents(ctx, url.Values{"hashes": {strings.ToLower(infoHash)}})
	if err != nil {
		return false, err
	}
	for _, t := range torrents {
		if strings.EqualFold(t.Hash, infoHash) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) listTorrents(ctx context.Context, query url.Values) ([]torrentInfo, error) {
	path := "/api/v2/torrents/info"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	resp, text, err := c.send(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, transportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unavailable(fmt.Errorf("info returned status %d", resp.StatusCode))
	}
	var torrents []torrentInfo
	if err := json.Unmarshal([]byte(text), &torrents); err != nil {
		return nil, unavailable(fmt.Errorf("decode torrent list: %w", err))
	}
	return torrents, nil
}

func (c *Client) Delete(ctx context.Context, handle string, purgeFiles bool) error {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return ErrNotFound
	}
	_, err := c.execute(ctx, func(ctx context.Context) (string, error) {
		form := url.Values{}
		form.Set("hashes", handle)
		form.Set("deleteFiles", strconv.FormatBool(purgeFiles))
		resp, _, err := c.send(ctx, http.MethodPost, "/api/v2/torrents/delete",
			strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
		if err != nil {
			return "", transportError(err)
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return "", ErrNotFound
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return "", nil
		default:
			return "", unavailable(fmt.Errorf("delete returned status %d", resp.StatusCode))
		}
	})
	return err
}

// execute logs in and runs op behind the circuit breaker.
func (c *Client) execute(ctx context.Context, op func(ctx context.Context) (string, error)) (string, error) {
	out, err := c.cb.Execute(func() (string, error) {
		if err := c.login(ctx); err != nil {
			return "", err
		}
		return op(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", unavailable(err)
	}
	return out, err
}

func (c *Client) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	resp, text, err := c.send(ctx, http.MethodPost, "/api/v2/auth/login",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return unavailable(fmt.Errorf("login: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return unavailable(fmt.Errorf("login returned status %d", resp.StatusCode))
	}
	if !strings.EqualFold(strings.TrimSpace(text), "Ok.") {
		return unavailable(errors.New("login rejected"))
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, "", fmt.Errorf("parse path %q: %w", path, err)
	}
	reqURL := c.baseURL.ResolveReference(ref)
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), body)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	// The WebUI rejects requests whose Referer/Origin does not match its host.
	req.Header.Set("Referer", c.baseURL.String())
	req.Header.Set("Origin", strings.TrimSuffix(c.baseURL.String(), "/"))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, "", fmt.Errorf("%s: %w (over %d bytes)", path, errResponseTooLarge, c.maxBody)
	}
	return resp, string(data), nil
}

func submissionBody(sub Submission) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := sub.Filename
	if strings.TrimSpace(filename) == "" {
		filename = "upload.torrent"
	}
	part, err := w.CreateFormFile("torrents", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create torrent part: %w", err)
	}
	if _, err := part.Write(sub.Data); err != nil {
		return nil, "", fmt.Errorf("write torrent part: %w", err)
	}
	if sub.SavePath != "" {
		if err := w.WriteField("savepath", sub.SavePath); err != nil {
			return nil, "", fmt.Errorf("write savepath: %w", err)
		}
	}
	if sub.Tag != "" {
		if err := w.WriteField("tags", sub.Tag); err != nil {
			return nil, "", fmt.Errorf("write tags: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func matchesTag(t torrentInfo, tag string) bool {
	if strings.TrimSpace(t.Comment) == tag {
		return true
	}
	for _, candidate := range strings.Split(t.Tags, ",") {
		if strings.TrimSpace(candidate) == tag {
			return true
		}
	}
	return false
}

// transportError marks err as an unavailable client unless the client did
// answer and only the response was unusable.
func transportError(err error) error {
	if errors.Is(err, errResponseTooLarge) {
		return err
	}
	return unavailable(err)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
}

func parseBaseURL(host string) (*url.URL, error) {
	trimmed := strings.TrimSpace(host)
	if trimmed == "" {
		trimmed = defaultHost
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse qbittorrent host %q: %w", host, err)
	}
	u.Path = "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

var _ Gateway = (*Client)(nil)
