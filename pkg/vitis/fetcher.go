package vitis

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/html/charset"
)

// DefaultBaseURL is the VitiBrasil portal entry point.
const DefaultBaseURL = "http://vitibrasil.cnpuv.embrapa.br/index.php"

// Fetcher retrieves a fresh record set for a key. Implementations make a
// single attempt per call.
type Fetcher interface {
	Fetch(ctx context.Context, key Key) (*RecordSet, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, key Key) (*RecordSet, error)

func (f FetcherFunc) Fetch(ctx context.Context, key Key) (*RecordSet, error) {
	return f(ctx, key)
}

// FetcherConfig configures an HTTPFetcher.
type FetcherConfig struct {
	BaseURL    string        // Default: DefaultBaseURL.
	Timeout    time.Duration // HTTP client timeout. Default: 30s.
	MaxBytes   int64         // Max response body size. Default: 10MB.
	UserAgent  string        // Default: "vitibrasil/1.0".
	TableClass string        // Default: DefaultTableClass.

	// Client overrides the HTTP client. Timeout is ignored when set.
	Client *http.Client
}

func (c *FetcherConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "vitibrasil/1.0"
	}
	if c.TableClass == "" {
		c.TableClass = DefaultTableClass
	}
}

// HTTPFetcher scrapes the portal over HTTP.
type HTTPFetcher struct {
	client *http.Client
	config FetcherConfig
}

// NewHTTPFetcher creates a fetcher for the portal.
func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	cfg.defaults()
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPFetcher{client: client, config: cfg}
}

// URL builds the page address for key: opcao, then ano, then subopcao.
func (f *HTTPFetcher) URL(key Key) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	s, _ := lookupSection(key.Category)

	base, err := url.Parse(f.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}

	// url.Values.Encode sorts keys; the portal expects this order.
	var q bytes.Buffer
	q.WriteString("opcao=" + url.QueryEscape(s.option))
	if key.Year != 0 {
		q.WriteString("&ano=" + strconv.Itoa(key.Year))
	}
	if key.SubCategory != "" {
		code, _ := s.subOptionCode(key.SubCategory)
		q.WriteString("&subopcao=" + url.QueryEscape(code))
	}
	base.RawQuery = q.String()
	return base.String(), nil
}

// Fetch retrieves and parses the page for key.
func (f *HTTPFetcher) Fetch(ctx context.Context, key Key) (*RecordSet, error) {
	target, err := f.URL(key)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{Key: key.String(), URL: target, Cause: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Key: key.String(), URL: target, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &FetchError{
			Key:        key.String(),
			URL:        target,
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("http %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, &FetchError{Key: key.String(), URL: target, Cause: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.config.MaxBytes {
		// A truncated document could still parse into a partial table.
		return nil, &ParseError{URL: target, Reason: fmt.Sprintf("response exceeds %d bytes", f.config.MaxBytes)}
	}

	utf8Body, err := charset.NewReader(bytes.NewReader(body), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &ParseError{URL: target, Reason: "decode charset: " + err.Error()}
	}
	return ParseTable(utf8Body, f.config.TableClass, target)
}
