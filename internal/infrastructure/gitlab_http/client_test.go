package gitlab_http

import (
	"context"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/davarch/ci-dashboard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, baseURL string, maxPages int) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:  baseURL,
		Token:    "secret-token",
		Timeout:  5 * time.Second,
		PerPage:  100,
		MaxPages: maxPages,
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func writeProjects(w http.ResponseWriter, from, n int) {
	fmt.Fprint(w, "[")
	for i := 0; i < n; i++ {
		if i > 0 {
			fmt.Fprint(w, ",")
		}
		fmt.Fprintf(w, `{"id":%d,"path_with_namespace":"g/p%d","default_branch":"main"}`, from+i, from+i)
	}
	fmt.Fprint(w, "]")
}

func TestProjects_FollowsPaginationInOrder(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "secret-token", r.Header.Get("PRIVATE-TOKEN"))

		page := r.URL.Query().Get("page")
		switch page {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v4/projects?page=2&per_page=100>; rel="next", <%s/api/v4/projects?page=3&per_page=100>; rel="last"`, srvURL(r), srvURL(r)))
			writeProjects(w, 0, 100)
		case "2":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v4/projects?page=3&per_page=100>; rel="next"`, srvURL(r)))
			writeProjects(w, 100, 100)
		case "3":
			writeProjects(w, 200, 50)
		default:
			t.Errorf("unexpected page %q", page)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 50)
	got, err := c.Projects(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, requests)
	require.Len(t, got, 250)
	for i, p := range got {
		assert.Equal(t, int64(i), p.ID)
	}
}

func srvURL(r *http.Request) string {
	return "http://" + r.Host
}

func TestProjects_NoNextRelStopsAfterOnePage(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Link", fmt.Sprintf(`<%s/api/v4/projects?page=1>; rel="first", <%s/api/v4/projects?page=1>; rel="last"`, srvURL(r), srvURL(r)))
		writeProjects(w, 0, 10)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 50)
	got, err := c.Projects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, requests)
	assert.Len(t, got, 10)
}

func TestProjects_MaxPagesTruncates(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		// Always advertises another page.
		next := requests + 1
		w.Header().Set("Link", fmt.Sprintf(`<%s/api/v4/projects?page=%d>; rel="next"`, srvURL(r), next))
		writeProjects(w, (requests-1)*100, 100)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	got, err := c.Projects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, requests)
	assert.Len(t, got, 200)
}

func TestProjects_EmptyPageStops(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Link", fmt.Sprintf(`<%s/api/v4/projects?page=%d>; rel="next"`, srvURL(r), requests+1))
		if requests == 1 {
			writeProjects(w, 0, 5)
			return
		}
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 50)
	got, err := c.Projects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, requests)
	assert.Len(t, got, 5)
}

func TestProjects_ServerErrorDiscardsPartialResults(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v4/projects?page=2>; rel="next"`, srvURL(r)))
			writeProjects(w, 0, 100)
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 50)
	got, err := c.Projects(context.Background())
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 2, requests)
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestProjects_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"not":"a list"`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 50)
	_, err := c.Projects(context.Background())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestProjectPipelines_SingleRequestDespiteNextHeader(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "/api/v4/projects/42/pipelines", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		w.Header().Set("Link", fmt.Sprintf(`<%s/api/v4/projects/42/pipelines?page=2>; rel="next"`, srvURL(r)))
		fmt.Fprint(w, `[
			{"id":9,"status":"failed","ref":"main","sha":"0123456789abcdef","created_at":"2025-06-01T12:00:00Z","updated_at":"2025-06-01T12:05:00Z","duration":300,"failure_reason":"script_failure"},
			{"id":8,"status":"success","ref":"main","sha":"fedcba9876543210","created_at":"2025-06-01T11:00:00Z","updated_at":"2025-06-01T11:04:00Z","duration":240}
		]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 50)
	got, err := c.ProjectPipelines(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 1, requests)
	require.Len(t, got, 2)

	failed := got[0]
	assert.Equal(t, int64(9), failed.ID)
	assert.Equal(t, int64(42), failed.ProjectID)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, "01234567", failed.SHA)
	require.NotNil(t, failed.Duration)
	assert.Equal(t, int64(300), *failed.Duration)
	assert.Equal(t, domain.FailureCode, failed.FailureDomain)
	assert.True(t, failed.ClassificationAttempted)

	ok := got[1]
	assert.Equal(t, domain.StatusSuccess, ok.Status)
	assert.Equal(t, domain.FailureDomain(""), ok.FailureDomain)
	assert.False(t, ok.ClassificationAttempted)
}

func TestProjectPipelines_UnrecognizedStatusMapsToUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":1,"status":"waiting_for_resource","ref":"main"}]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 50)
	got, err := c.ProjectPipelines(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.StatusUnknown, got[0].Status)
}

func TestNextPageToken(t *testing.T) {
	cases := []struct {
		name string
		link string
		want string
	}{
		{"double quoted", `<https://x/api?page=2&per_page=50>; rel="next"`, "2"},
		{"single quoted", `<https://x/api?page=7>; rel='next'`, "7"},
		{"among others", `<https://x/api?page=1>; rel="first", <https://x/api?page=4>; rel="next", <https://x/api?page=9>; rel="last"`, "4"},
		{"no next", `<https://x/api?page=1>; rel="first", <https://x/api?page=9>; rel="last"`, ""},
		{"empty header", "", ""},
		{"garbage", "not a link header", ""},
		{"missing angle brackets", `https://x/api?page=2; rel="next"`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, nextPageToken(tc.link))
		})
	}
}

func TestNew_BadCABundle(t *testing.T) {
	_, err := New(Config{
		BaseURL:  "https://gitlab.example.com",
		Token:    "t",
		CABundle: "/nonexistent/bundle.pem",
	}, zap.NewNop())
	require.Error(t, err)
}

func TestNew_CABundleWinsOverInsecure(t *testing.T) {
	// Self-signed test certificate material is overkill here; the policy
	// check only needs a bundle that parses.
	dir := t.TempDir()
	path := dir + "/ca.pem"
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	cert := srv.Certificate()
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(t, os.WriteFile(path, block, 0o600))

	c, err := New(Config{
		BaseURL:  srv.URL,
		Token:    "t",
		Timeout:  time.Second,
		PerPage:  10,
		MaxPages: 2,
		CABundle: path,
		Insecure: true,
	}, zap.NewNop())
	require.NoError(t, err)

	tr, ok := c.hc.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, tr.TLSClientConfig)
	assert.False(t, tr.TLSClientConfig.InsecureSkipVerify)
	assert.NotNil(t, tr.TLSClientConfig.RootCAs)
}
