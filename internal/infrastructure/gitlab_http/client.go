package gitlab_http

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/davarch/ci-dashboard/internal/domain"
	"go.uber.org/zap"
)

type Config struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	PerPage  int
	MaxPages int
	CABundle string
	Insecure bool
}

// Client fetches projects and pipelines from the GitLab REST API,
// following cursor pagination via the Link response header. It performs
// no retries; retry policy belongs to the polling layer.
type Client struct {
	baseURL  string
	token    string
	perPage  int
	maxPages int
	hc       *http.Client
	log      *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Client, error) {
	tlsCfg, err := tlsConfig(cfg, log)
	if err != nil {
		return nil, err
	}

	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		TLSClientConfig:     tlsCfg,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL:  trimSlash(cfg.BaseURL),
		token:    cfg.Token,
		perPage:  cfg.PerPage,
		maxPages: cfg.MaxPages,
		hc:       &http.Client{Transport: tr, Timeout: cfg.Timeout},
		log:      log,
	}, nil
}

// tlsConfig applies the trust policy: a custom bundle verifies against
// only that bundle and wins over the insecure flag, which is still logged
// for diagnostics. Neither set means the platform trust store.
func tlsConfig(cfg Config, log *zap.Logger) (*tls.Config, error) {
	if cfg.CABundle != "" {
		pem, err := os.ReadFile(cfg.CABundle)
		if err != nil {
			return nil, fmt.Errorf("read ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca bundle %s: no certificates found", cfg.CABundle)
		}
		if cfg.Insecure {
			log.Warn("insecure flag set but ca bundle takes precedence",
				zap.String("ca_bundle", cfg.CABundle))
		}
		return &tls.Config{RootCAs: pool}, nil
	}
	if cfg.Insecure {
		log.Warn("tls certificate verification disabled")
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec
	}
	return nil, nil
}

type projectDTO struct {
	ID             int64     `json:"id"`
	Name           string    `json:"path_with_namespace"`
	DefaultBranch  string    `json:"default_branch"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type pipelineDTO struct {
	ID            int64     `json:"id"`
	ProjectID     int64     `json:"project_id"`
	Status        string    `json:"status"`
	Ref           string    `json:"ref"`
	SHA           string    `json:"sha"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Duration      *int64    `json:"duration"`
	FailureReason string    `json:"failure_reason"`
}

// Projects returns every project visible to the token, fully paginated.
func (c *Client) Projects(ctx context.Context) ([]domain.Project, error) {
	q := url.Values{}
	q.Set("membership", "true")
	q.Set("order_by", "last_activity_at")

	items, err := c.fetchAll(ctx, "/api/v4/projects", q)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Project, 0, len(items))
	for _, raw := range items {
		var dto projectDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return nil, fmt.Errorf("decode project: %w", err)
		}
		out = append(out, domain.Project{
			ID:             dto.ID,
			Name:           dto.Name,
			DefaultBranch:  dto.DefaultBranch,
			LastActivityAt: dto.LastActivityAt,
		})
	}
	return out, nil
}

// ProjectPipelines returns one bounded page of the project's most recent
// pipelines. Deliberately a single request, never paginated.
func (c *Client) ProjectPipelines(ctx context.Context, projectID int64) ([]domain.Pipeline, error) {
	endpoint := fmt.Sprintf("/api/v4/projects/%d/pipelines", projectID)
	items, err := c.fetchSinglePage(ctx, endpoint, nil, c.perPage)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Pipeline, 0, len(items))
	for _, raw := range items {
		var dto pipelineDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return nil, fmt.Errorf("decode pipeline: %w", err)
		}
		p := domain.Pipeline{
			ID:        dto.ID,
			ProjectID: projectID,
			Status:    domain.ParseStatus(dto.Status),
			Ref:       dto.Ref,
			SHA:       shortSHA(dto.SHA),
			CreatedAt: dto.CreatedAt,
			UpdatedAt: dto.UpdatedAt,
			Duration:  dto.Duration,
		}
		if p.Status == domain.StatusFailed {
			p.FailureDomain, p.ClassificationAttempted = domain.ClassifyFailure(dto.FailureReason)
		}
		out = append(out, p)
	}
	return out, nil
}

// fetchAll walks the pagination cursor until the last page, an empty page,
// or the max-pages guard. Any page failure discards everything fetched so
// far: callers must never act on partial pagination.
func (c *Client) fetchAll(ctx context.Context, endpoint string, query url.Values) ([]json.RawMessage, error) {
	var out []json.RawMessage
	page := ""
	for n := 0; n < c.maxPages; n++ {
		q := cloneValues(query)
		if page != "" {
			q.Set("page", page)
		}
		items, next, err := c.fetchPage(ctx, endpoint, q)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return out, nil
		}
		out = append(out, items...)
		if next == "" {
			return out, nil
		}
		page = next
	}
	c.log.Warn("pagination truncated at page cap",
		zap.String("endpoint", endpoint),
		zap.Int("max_pages", c.maxPages),
		zap.Int("items", len(out)),
	)
	return out, nil
}

// fetchPage issues one GET with the configured page size and returns the
// items plus the next-page cursor ("" on the last page).
func (c *Client) fetchPage(ctx context.Context, endpoint string, query url.Values) ([]json.RawMessage, string, error) {
	q := cloneValues(query)
	q.Set("per_page", strconv.Itoa(c.perPage))

	items, link, err := c.get(ctx, endpoint, q)
	if err != nil {
		return nil, "", err
	}
	return items, nextPageToken(link), nil
}

// fetchSinglePage is the one-bounded-request path: pageSize items at most,
// the pagination header is ignored entirely.
func (c *Client) fetchSinglePage(ctx context.Context, endpoint string, query url.Values, pageSize int) ([]json.RawMessage, error) {
	q := cloneValues(query)
	q.Set("per_page", strconv.Itoa(pageSize))

	items, _, err := c.get(ctx, endpoint, q)
	return items, err
}

// get performs one authenticated GET. The token travels in a header and
// must never reach a log line or error string.
func (c *Client) get(ctx context.Context, endpoint string, query url.Values) ([]json.RawMessage, string, error) {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request %s: %w", endpoint, err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)

	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Warn("gitlab request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, "", fmt.Errorf("get %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("gitlab request rejected",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
		)
		return nil, "", fmt.Errorf("get %s: gitlab %s", endpoint, resp.Status)
	}

	var items []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		c.log.Warn("gitlab response malformed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, "", fmt.Errorf("decode %s: %w", endpoint, err)
	}

	return items, resp.Header.Get("Link"), nil
}

// nextPageToken extracts the page number of the rel="next" entry from a
// Link-style header of comma-separated `<url>; rel="name"` pairs. Both
// double- and single-quoted rel values are accepted. Empty result means
// last page.
func nextPageToken(link string) string {
	for _, part := range strings.Split(link, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		target := strings.TrimSpace(segs[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}

		rel := ""
		for _, attr := range segs[1:] {
			attr = strings.TrimSpace(attr)
			if strings.HasPrefix(attr, "rel=") {
				rel = strings.Trim(attr[len("rel="):], `"'`)
			}
		}
		if rel != "next" {
			continue
		}

		u, err := url.Parse(target[1 : len(target)-1])
		if err != nil {
			continue
		}
		return u.Query().Get("page")
	}
	return ""
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func cloneValues(q url.Values) url.Values {
	out := url.Values{}
	for k, vs := range q {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
