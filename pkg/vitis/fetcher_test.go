package vitis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPFetcher_URL(t *testing.T) {
	f := NewHTTPFetcher(FetcherConfig{})

	tests := []struct {
		key  Key
		want string
	}{
		{Key{Category: CategoryProduction}, DefaultBaseURL + "?opcao=opt_02"},
		{Key{Category: CategoryProduction, Year: 2020}, DefaultBaseURL + "?opcao=opt_02&ano=2020"},
		{
			Key{Category: CategoryProcessing, SubCategory: SubHybridAmericans, Year: 2023},
			DefaultBaseURL + "?opcao=opt_03&ano=2023&subopcao=subopt_02",
		},
		{Key{Category: CategoryExport, SubCategory: SubGrapeJuice}, DefaultBaseURL + "?opcao=opt_06&subopcao=subopt_04"},
		{Key{Category: CategoryImport, SubCategory: SubGrapeJuice}, DefaultBaseURL + "?opcao=opt_05&subopcao=subopt_05"},
	}

	for _, tt := range tests {
		got, err := f.URL(tt.key)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.key, err)
		}
		if got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.key, tt.want, got)
		}
	}

	if _, err := f.URL(Key{Category: "wine"}); !errors.Is(err, ErrUnsupportedResource) {
		t.Errorf("expected unsupported resource error, got %v", err)
	}
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(portalPage))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetcherConfig{BaseURL: srv.URL + "/index.php"})
	rs, err := f.Fetch(context.Background(), Key{Category: CategoryProcessing, SubCategory: SubHybridAmericans, Year: 2023})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if gotQuery != "opcao=opt_03&ano=2023&subopcao=subopt_02" {
		t.Errorf("unexpected query %q", gotQuery)
	}
	if gotUA != "vitibrasil/1.0" {
		t.Errorf("unexpected user agent %q", gotUA)
	}
	if rs.Len() != 4 {
		t.Errorf("expected 4 rows, got %d", rs.Len())
	}
}

func TestHTTPFetcher_Latin1(t *testing.T) {
	// "Exportação" in ISO-8859-1.
	page := "<table class=\"tb_base tb_dados\"><thead><tr><th>Exporta\xe7\xe3o</th></tr></thead>" +
		"<tbody><tr><td>10</td></tr></tbody></table>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetcherConfig{BaseURL: srv.URL})
	rs, err := f.Fetch(context.Background(), Key{Category: CategoryExport})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if rs.Columns[0] != "Exportação" {
		t.Errorf("expected decoded header, got %q", rs.Columns[0])
	}
}

func TestHTTPFetcher_StatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		retriable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, false},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", tt.status)
		}))

		f := NewHTTPFetcher(FetcherConfig{BaseURL: srv.URL})
		_, err := f.Fetch(context.Background(), Key{Category: CategoryProduction})
		srv.Close()

		var fe *FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("status %d: expected FetchError, got %v", tt.status, err)
		}
		if fe.StatusCode != tt.status {
			t.Errorf("expected status %d, got %d", tt.status, fe.StatusCode)
		}
		if fe.Retriable() != tt.retriable {
			t.Errorf("status %d: expected retriable=%v", tt.status, tt.retriable)
		}
		if DefaultRetriable(err) != tt.retriable {
			t.Errorf("status %d: DefaultRetriable disagrees with FetchError.Retriable", tt.status)
		}
	}
}

func TestHTTPFetcher_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := NewHTTPFetcher(FetcherConfig{BaseURL: url, Timeout: time.Second})
	_, err := f.Fetch(context.Background(), Key{Category: CategoryProduction})

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.StatusCode != 0 || !fe.Retriable() {
		t.Errorf("expected retriable transport error, got %+v", fe)
	}
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetcherConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := f.Fetch(context.Background(), Key{Category: CategoryProduction})
	if !errors.Is(err, ErrFetch) {
		t.Errorf("expected fetch error on timeout, got %v", err)
	}
}

func TestHTTPFetcher_BodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(portalPage))
	}))
	defer srv.Close()

	limit := int64(len(portalPage) / 2)
	f := NewHTTPFetcher(FetcherConfig{BaseURL: srv.URL, MaxBytes: limit})
	rs, err := f.Fetch(context.Background(), Key{Category: CategoryProduction})

	var pe *ParseError
	if rs != nil || !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got rs=%v err=%v", rs, err)
	}
	if !strings.Contains(pe.Reason, "exceeds") {
		t.Errorf("unexpected reason %q", pe.Reason)
	}

	// A body of exactly MaxBytes is accepted.
	f = NewHTTPFetcher(FetcherConfig{BaseURL: srv.URL, MaxBytes: int64(len(portalPage))})
	if _, err := f.Fetch(context.Background(), Key{Category: CategoryProduction}); err != nil {
		t.Errorf("expected body at the limit to parse, got %v", err)
	}
}

func TestHTTPFetcher_NoTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>Sistema em manutenção</body></html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetcherConfig{BaseURL: srv.URL})
	_, err := f.Fetch(context.Background(), Key{Category: CategoryProduction})

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if !strings.Contains(pe.URL, "opcao=opt_02") {
		t.Errorf("expected URL in parse error, got %q", pe.URL)
	}
	if DefaultRetriable(err) {
		t.Error("parse errors must not be retried")
	}
}
