// Package reputation queries the external reputation service for file and
// URL verdicts. One shared HTTP client backs both job kinds; a circuit
// breaker in front of it keeps a flapping backend from eating pool slots.
package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"watchpost.core/internal/core/circuitbreaker"
	"watchpost.core/internal/core/domain"
	"watchpost.core/internal/core/ports"
)

// maxBodySize caps how much of a response we read; verdicts are small and
// an endless body must not hold a worker.
const maxBodySize = 1 << 20

// Verdict is the normalized lookup result stored in the cache.
type Verdict struct {
	Target     string `json:"target"`
	Type       string `json:"type"`
	Verdict    string `json:"verdict"`
	Score      int    `json:"score"`
	Source     string `json:"source,omitempty"`
	Categories string `json:"categories,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewClient(baseURL string, breaker *circuitbreaker.CircuitBreaker) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: breaker,
	}
}

// Invoker returns the job invoker for one lookup kind. Only file-lookup and
// url-lookup are reputation kinds.
func (c *Client) Invoker(kind domain.JobKind) ports.Invoker {
	return &lookupInvoker{client: c, kind: kind}
}

type lookupInvoker struct {
	client *Client
	kind   domain.JobKind
}

func (l *lookupInvoker) Kind() domain.JobKind { return l.kind }

func (l *lookupInvoker) Invoke(ctx context.Context, target string, progress func()) (string, error) {
	progress()
	raw, err := l.client.breaker.Execute(func() (string, error) {
		return l.client.query(ctx, l.kind, target)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	progress()
	return raw, nil
}

func (c *Client) query(ctx context.Context, kind domain.JobKind, target string) (string, error) {
	endpoint, err := c.endpointFor(kind, target)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("reputation request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("reputation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reputation service returned %d", resp.StatusCode)
	}

	verdict, err := parseVerdict(body)
	if err != nil {
		return "", err
	}
	verdict.Target = target
	verdict.Type = lookupType(kind)

	out, err := json.Marshal(verdict)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c *Client) endpointFor(kind domain.JobKind, target string) (string, error) {
	q := url.Values{}
	q.Set("type", lookupType(kind))
	q.Set("target", target)
	return fmt.Sprintf("%s/v1/reputation?%s", c.baseURL, q.Encode()), nil
}

func lookupType(kind domain.JobKind) string {
	if kind == domain.JobKindFileLookup {
		return "file"
	}
	return "url"
}

// parseVerdict validates the backend payload. A well-formed HTTP response
// carrying garbage JSON or an unknown verdict is a bad_response failure,
// not a tool error.
func parseVerdict(body []byte) (*Verdict, error) {
	var v Verdict
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBadResponse, err)
	}
	switch v.Verdict {
	case "clean", "suspicious", "malicious", "unknown":
	default:
		return nil, fmt.Errorf("%w: unrecognized verdict %q", domain.ErrBadResponse, v.Verdict)
	}
	if v.Score < 0 || v.Score > 100 {
		return nil, fmt.Errorf("%w: score %d out of range", domain.ErrBadResponse, v.Score)
	}
	return &v, nil
}
