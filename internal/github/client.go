package github

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/itss-group/projectpulse/internal/errors"
	"github.com/itss-group/projectpulse/internal/resilience"
)

const apiBase = "https://api.github.com"

// Commit is a single commit with its line change stats.
type Commit struct {
	SHA         string
	Message     string
	AuthorLogin string
	AuthorEmail string
	Additions   int
	Deletions   int
	CommittedAt time.Time
}

type commitListItem struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Email string    `json:"email"`
			Date  time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
}

type commitDetail struct {
	Stats struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
	} `json:"stats"`
}

// Client fetches commit data from the GitHub REST API. Requests are rate
// limited client side and guarded by a circuit breaker so a flaky upstream
// cannot stall ingestion sweeps.
type Client struct {
	token   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// NewClient creates a GitHub API client. An empty token falls back to
// unauthenticated requests with their much lower rate limit.
func NewClient(token string) *Client {
	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxConnsPerHost:       20,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	return &Client{
		token: token,
		http:  &http.Client{Transport: transport, Timeout: 30 * time.Second},
		// Authenticated GitHub API allows 5000 requests/hour.
		limiter: rate.NewLimiter(rate.Limit(1), 5),
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			SuccessThreshold: 3,
		}),
	}
}

// ListCommits returns the repository's commits newer than since, including
// per-commit line stats. Stats require one extra request per commit.
func (c *Client) ListCommits(ctx context.Context, owner, repo string, since *time.Time) ([]Commit, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/commits?per_page=100", apiBase, url.PathEscape(owner), url.PathEscape(repo))
	if since != nil {
		endpoint += "&since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}

	var items []commitListItem
	if err := c.getJSON(ctx, endpoint, &items); err != nil {
		return nil, err
	}

	commits := make([]Commit, 0, len(items))
	for _, item := range items {
		commit := Commit{
			SHA:         item.SHA,
			Message:     item.Commit.Message,
			AuthorEmail: item.Commit.Author.Email,
			CommittedAt: item.Commit.Author.Date,
		}
		if item.Author != nil {
			commit.AuthorLogin = item.Author.Login
		}

		var detail commitDetail
		detailURL := fmt.Sprintf("%s/repos/%s/%s/commits/%s", apiBase, url.PathEscape(owner), url.PathEscape(repo), item.SHA)
		if err := c.getJSON(ctx, detailURL, &detail); err != nil {
			return nil, fmt.Errorf("failed to fetch stats for commit %s: %w", item.SHA, err)
		}
		commit.Additions = detail.Stats.Additions
		commit.Deletions = detail.Stats.Deletions

		commits = append(commits, commit)
	}
	return commits, nil
}

// RepositoryExists checks whether the API can see the repository with the
// configured token.
func (c *Client) RepositoryExists(ctx context.Context, owner, repo string) (bool, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s", apiBase, url.PathEscape(owner), url.PathEscape(repo))

	resp, err := c.do(ctx, endpoint)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, errors.NewExternalError("github", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	resp, err := c.do(ctx, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return errors.NewExternalError("github", fmt.Errorf("status %d, body: %s", resp.StatusCode, string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode github response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, endpoint string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.Retryable = func(err error) bool {
		// Retrying while the breaker is open only burns the backoff budget.
		var open *resilience.OpenError
		return !stderrors.As(err, &open)
	}

	var resp *http.Response
	err := resilience.RetryWithConfig(ctx, retryCfg, func() error {
		return c.breaker.Call(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return err
			}
			req.Header.Set("Accept", "application/vnd.github.v3+json")
			req.Header.Set("User-Agent", "ProjectPulse/1.0")
			if c.token != "" {
				req.Header.Set("Authorization", "Bearer "+c.token)
			}

			resp, err = c.http.Do(req)
			return err
		})
	})
	if err != nil {
		return nil, errors.NewExternalError("github", err)
	}
	return resp, nil
}
