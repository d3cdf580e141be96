package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/sirupsen/logrus"

	"trackersync/internal/credentials"
	"trackersync/internal/domain"
)

func testTorrent(t *testing.T, name, comment string) []byte {
	t.Helper()
	info := metainfo.Info{Name: name, PieceLength: 16384, Length: 3, Pieces: make([]byte, 20)}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		t.Fatalf("marshal info: %v", err)
	}
	mi := metainfo.MetaInfo{InfoBytes: infoBytes, Comment: comment}
	var buf bytes.Buffer
	if err := mi.Write(&buf); err != nil {
		t.Fatalf("write metainfo: %v", err)
	}
	return buf.Bytes()
}

func cookieStore(t *testing.T, content string) *credentials.FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cookies.json")
	if content != "" {
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return credentials.NewFileStore(path)
}

type trackerFake struct {
	page        string
	pageStatus  int
	torrent     []byte
	dlStatus    int
	disposition string
	requests    atomic.Int32
	gotCookie   atomic.Value
	gotAgent    atomic.Value
}

func (f *trackerFake) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if c, err := r.Cookie("bb_session"); err == nil {
			f.gotCookie.Store(c.Value)
		}
		f.gotAgent.Store(r.Header.Get("User-Agent"))

		switch r.URL.Path {
		case "/forum/viewtopic.php":
			if f.pageStatus != 0 {
				w.WriteHeader(f.pageStatus)
				return
			}
			_, _ = io.WriteString(w, f.page)
		case "/forum/dl.php":
			if f.dlStatus != 0 {
				w.WriteHeader(f.dlStatus)
				return
			}
			if f.disposition != "" {
				w.Header().Set("Content-Disposition", f.disposition)
			}
			w.Header().Set("Content-Type", "application/x-bittorrent")
			_, _ = w.Write(f.torrent)
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestFetcher(t *testing.T, baseURL string, creds credentials.Loader) Fetcher {
	t.Helper()
	return newTestFetcherTimeout(t, baseURL, creds, 2*time.Second)
}

func newTestFetcherTimeout(t *testing.T, baseURL string, creds credentials.Loader, timeout time.Duration) Fetcher {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	f, err := NewFetcher(Config{BaseURL: baseURL + "/forum", Timeout: timeout, Logger: logger}, creds)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	return f
}

const topicPage = `<html><body><table><tr><td>
<a href="dl.php?t=42" class="dl-stub dl-link dl-topic">Download .torrent</a>
</td></tr></table></body></html>`

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	fake := &trackerFake{
		page:        topicPage,
		torrent:     testTorrent(t, "album", "https://rutracker.org/forum/viewtopic.php?t=42"),
		disposition: `attachment; filename*=UTF-8''%5Brutracker.org%5D.t42.torrent`,
	}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	f := newTestFetcher(t, server.URL, cookieStore(t, `{"bb_session": "secret"}`))
	art, err := f.Fetch(context.Background(), "42")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if !bytes.Equal(art.Data, fake.torrent) {
		t.Fatalf("artifact body mismatch")
	}
	if art.Filename != "[rutracker.org].t42.torrent" {
		t.Fatalf("Filename = %q, want [rutracker.org].t42.torrent", art.Filename)
	}
	if want := server.URL + "/forum/viewtopic.php?t=42"; art.SourceURL != want {
		t.Fatalf("SourceURL = %q, want %q", art.SourceURL, want)
	}
	if got := fake.gotCookie.Load(); got != "secret" {
		t.Fatalf("cookie = %v, want secret", got)
	}
	if got, _ := fake.gotAgent.Load().(string); !strings.HasPrefix(got, "Mozilla/5.0") {
		t.Fatalf("User-Agent = %q, want browser-like", got)
	}

	info, err := Inspect(art.Data)
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if info.Name != "album" || info.TotalSize != 3 || len(info.InfoHash) != 40 {
		t.Fatalf("Inspect = %+v, want album/3 bytes/40-char hash", info)
	}
}

func TestFetch_FailureReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fake    *trackerFake
		cookies string
		want    domain.FailureReason
		calls   int32
	}{
		{"no credentials", &trackerFake{page: topicPage}, "", domain.ReasonNoCredentials, 0},
		{"bad credentials", &trackerFake{page: topicPage}, `{}`, domain.ReasonNoCredentials, 0},
		{"page error", &trackerFake{pageStatus: http.StatusBadGateway}, `{"bb_session": "s"}`, domain.ReasonPageUnreachable, 1},
		{"link missing", &trackerFake{page: "<html><p>Тема удалена</p></html>"}, `{"bb_session": "s"}`, domain.ReasonLinkNotFound, 1},
		{"artifact error", &trackerFake{page: topicPage, dlStatus: http.StatusForbidden}, `{"bb_session": "s"}`, domain.ReasonArtifactUnreachable, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(tt.fake.handler())
			t.Cleanup(server.Close)

			f := newTestFetcher(t, server.URL, cookieStore(t, tt.cookies))
			_, err := f.Fetch(context.Background(), "42")

			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("Fetch error = %v, want *FetchError", err)
			}
			if fetchErr.Reason != tt.want {
				t.Fatalf("Reason = %q, want %q", fetchErr.Reason, tt.want)
			}
			if got := tt.fake.requests.Load(); got != tt.calls {
				t.Fatalf("requests = %d, want %d", got, tt.calls)
			}
		})
	}
}

func TestFetch_UnreachableHost(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	f := newTestFetcher(t, base, cookieStore(t, `{"bb_session": "s"}`))
	_, err := f.Fetch(context.Background(), "42")
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Reason != domain.ReasonPageUnreachable {
		t.Fatalf("Fetch error = %v, want page_unreachable", err)
	}
}

func TestFetch_TimeoutIsBounded(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	f := newTestFetcherTimeout(t, server.URL, cookieStore(t, `{"bb_session": "s"}`), 50*time.Millisecond)
	start := time.Now()
	_, err := f.Fetch(context.Background(), "42")
	elapsed := time.Since(start)

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Reason != domain.ReasonPageUnreachable {
		t.Fatalf("Fetch error = %v, want page_unreachable", err)
	}
	if elapsed > time.Second {
		t.Fatalf("Fetch took %v, want it bounded by the 50ms timeout", elapsed)
	}
}

func TestFetch_OversizedArtifact(t *testing.T) {
	t.Parallel()

	fake := &trackerFake{page: topicPage, torrent: bytes.Repeat([]byte("x"), 512)}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	f := newTestFetcher(t, server.URL, cookieStore(t, `{"bb_session": "s"}`))
	f.(*fetcher).maxBody = 256

	_, err := f.Fetch(context.Background(), "42")
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Reason != domain.ReasonArtifactUnreachable {
		t.Fatalf("Fetch error = %v, want artifact_unreachable", err)
	}
	if !strings.Contains(err.Error(), "too large") {
		t.Fatalf("Fetch error = %v, want a size error", err)
	}
}

func TestInspect_RejectsHTML(t *testing.T) {
	if _, err := Inspect([]byte("<html>login</html>")); err == nil {
		t.Fatalf("Inspect accepted an HTML page")
	}
}

func TestFilenameFromHeader(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", "torrent_7.torrent"},
		{`attachment; filename="plain.torrent"`, "plain.torrent"},
		{`attachment; filename*=UTF-8''%D0%90%D0%BB%D1%8C%D0%B1%D0%BE%D0%BC.torrent`, "Альбом.torrent"},
		{`attachment; filename="../../etc/passwd"`, "passwd"},
		{`garbage;;`, "torrent_7.torrent"},
	}
	for _, tt := range tests {
		if got := filenameFromHeader(tt.header, "7"); got != tt.want {
			t.Fatalf("filenameFromHeader(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	if got := FormatBytes(512); got != "512B" {
		t.Fatalf("FormatBytes(512) = %q", got)
	}
	if got := FormatBytes(1536); got != "1.5KiB" {
		t.Fatalf("FormatBytes(1536) = %q", got)
	}
}
