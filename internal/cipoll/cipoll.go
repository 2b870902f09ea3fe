// Package cipoll polls GitHub for a pushed commit's CI verdict and provides
// the fork fallback used when the upstream rejects the agent's push.
package cipoll

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dealcetexplains-png/mender/internal/logging"
)

const pollInterval = 10 * time.Second

var logger = logging.New("cipoll")

// Status is the upstream CI verdict for one commit.
type Status struct {
	// State is "success", "failure", "pending", or "timeout".
	State   string `json:"status"`
	Message string `json:"message"`
}

// Client talks to the GitHub REST API.
type Client struct {
	BaseURL  string
	Token    string
	HTTP     *http.Client
	Interval time.Duration
}

func NewClient(token string) *Client {
	return &Client{
		BaseURL:  "https://api.github.com",
		Token:    token,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
		Interval: pollInterval,
	}
}

// Enabled reports whether CI polling is configured.
func (c *Client) Enabled() bool { return c != nil && c.Token != "" }

// Poll waits for the commit's combined status to leave "pending", checking
// every ten seconds until the context or timeout expires. A run that never
// resolves reports state "timeout".
func (c *Client) Poll(ctx context.Context, repoURL, sha string, timeout time.Duration) (Status, error) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return Status{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := c.Interval
	if interval <= 0 {
		interval = pollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := c.combinedStatus(ctx, owner, repo, sha)
		if err == nil && st.State != "pending" {
			return st, nil
		}
		if err != nil {
			logger.Debug("status fetch failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return Status{State: "timeout", Message: fmt.Sprintf("CI did not resolve within %s", timeout)}, nil
		case <-ticker.C:
		}
	}
}

func (c *Client) combinedStatus(ctx context.Context, owner, repo, sha string) (Status, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/commits/%s/status", c.BaseURL, owner, repo, sha)
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return Status{}, err
	}
	var payload struct {
		State    string `json:"state"`
		Statuses []struct {
			Context     string `json:"context"`
			Description string `json:"description"`
		} `json:"statuses"`
		TotalCount int `json:"total_count"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Status{}, err
	}
	// A repo with no status checks reports "pending" forever with zero
	// statuses; treat that as success so the poll does not burn the budget.
	if payload.State == "pending" && payload.TotalCount == 0 {
		return Status{State: "success", Message: "no CI checks configured"}, nil
	}
	msg := payload.State
	if len(payload.Statuses) > 0 {
		msg = payload.Statuses[0].Context + ": " + payload.Statuses[0].Description
	}
	return Status{State: payload.State, Message: msg}, nil
}

// Fork creates (or fetches, if it already exists) the token owner's fork of
// the repository and returns its clone URL. Used when the upstream rejects
// a push from a non-owner.
func (c *Client) Fork(ctx context.Context, repoURL string) (string, error) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/forks", c.BaseURL, owner, repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}
	c.decorate(req)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fork %s/%s: status %d: %s", owner, repo, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		CloneURL string `json:"clone_url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", err
	}
	if payload.CloneURL == "" {
		return "", fmt.Errorf("fork response missing clone_url")
	}
	logger.Info("forked repository", "upstream", owner+"/"+repo, "fork", payload.CloneURL)
	return payload.CloneURL, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", endpoint, resp.StatusCode)
	}
	return body, nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

// ParseRepoURL extracts (owner, repo) from https or ssh GitHub URLs.
func ParseRepoURL(repoURL string) (string, string, error) {
	s := strings.TrimSuffix(strings.TrimSpace(repoURL), ".git")
	if strings.HasPrefix(s, "git@") {
		// git@github.com:owner/repo
		if _, rest, ok := strings.Cut(s, ":"); ok {
			parts := strings.Split(rest, "/")
			if len(parts) == 2 {
				return parts[0], parts[1], nil
			}
		}
		return "", "", fmt.Errorf("unrecognized ssh repo url: %s", repoURL)
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repo url missing owner/name: %s", repoURL)
	}
	return parts[0], parts[1], nil
}
