/*
Copyright 2026 Adevinta
*/

// Package aikido provides a client for the public REST API of the Aikido
// security platform.
package aikido

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultAPIURL is the base URL of the Aikido API and dashboard.
	DefaultAPIURL = "https://app.aikido.dev"

	// RepositoriesPageSize is the number of repositories requested per page.
	RepositoriesPageSize = 10

	// DefaultIssueGroupsPageSize is the number of issue groups requested per
	// page when no other value is configured.
	DefaultIssueGroupsPageSize = 20

	// DefaultMaxConcurrency is the default maximum number of issue exports
	// in flight.
	DefaultMaxConcurrency = 10

	defaultRetryWait = 500 * time.Millisecond

	tokenPath        = "/api/oauth/token"
	repositoriesPath = "/api/public/v1/repositories/code"
	issueGroupsPath  = "/api/public/v1/open-issue-groups"
	issuesExportPath = "/api/public/v1/issues/export"
)

var (
	// ErrRepositoryNotFound is returned when no repository matches a name.
	ErrRepositoryNotFound = errors.New("unable to find repository")

	// ErrInvalidResponse is returned when a response body can not be decoded.
	ErrInvalidResponse = errors.New("invalid response")
)

// HTTPStatusError is returned when the API answers with a status code
// different to 200.
type HTTPStatusError struct {
	Status int
	Path   string
	Msg    string
}

func (h *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s: %s", h.Status, h.Path, h.Msg)
}

// Temporary reports whether the request may succeed if repeated.
func (h *HTTPStatusError) Temporary() bool {
	return h.Status == http.StatusTooManyRequests || h.Status >= http.StatusInternalServerError
}

// Options tune the behaviour of a [Client].
type Options struct {
	// MaxConcurrency bounds the number of concurrent issue exports.
	MaxConcurrency int
	// IssueGroupsPageSize is the page size used to list issue groups.
	IssueGroupsPageSize int
	// Retries is the number of times a failed GET is repeated. Only
	// transport errors, 429 and 5xx responses are retried.
	Retries uint64
	// RetryWait is the initial wait between retries.
	RetryWait time.Duration
}

// Client talks to the Aikido public API.
type Client struct {
	c        *http.Client
	endpoint *url.URL
	opts     Options
	logger   *logrus.Entry
}

// NewClient returns a client for the API at baseURL. The given http client
// must already authenticate the requests, see [WithToken].
func NewClient(baseURL string, hc *http.Client, opts Options, logger *logrus.Entry) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	endpoint, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Aikido API url %s: %w", baseURL, err)
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.IssueGroupsPageSize <= 0 {
		opts.IssueGroupsPageSize = DefaultIssueGroupsPageSize
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = defaultRetryWait
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		c:        hc,
		endpoint: endpoint,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Repositories lists every code repository. Pages of
// [RepositoriesPageSize] items are requested starting at page 0 until a page
// comes back short. Any failure discards the pages already read.
func (c *Client) Repositories(ctx context.Context) ([]Repository, error) {
	var repos []Repository
	for page := 0; ; page++ {
		q := url.Values{
			"per_page": {strconv.Itoa(RepositoriesPageSize)},
			"page":     {strconv.Itoa(page)},
		}
		var batch []Repository
		if err := c.get(ctx, repositoriesPath, q, &batch); err != nil {
			return nil, fmt.Errorf("failed to retrieve code repositories: %w", err)
		}
		repos = append(repos, batch...)
		if len(batch) < RepositoriesPageSize {
			return repos, nil
		}
	}
}

// ResolveRepository returns the first repository whose name contains name.
func ResolveRepository(repos []Repository, name string) (Repository, error) {
	for _, repo := range repos {
		if strings.Contains(repo.Name, name) {
			return repo, nil
		}
	}
	return Repository{}, fmt.Errorf("%w: %s", ErrRepositoryNotFound, name)
}

// RepositoryID resolves a repository name to its Aikido id.
func (c *Client) RepositoryID(ctx context.Context, name string) (ID, error) {
	repos, err := c.Repositories(ctx)
	if err != nil {
		return "", err
	}
	repo, err := ResolveRepository(repos, name)
	if err != nil {
		return "", err
	}
	return repo.ID, nil
}

// OpenIssueGroups returns the open issue groups of a repository.
//
// The listing is paginated. It stops on a short page, or on a page that
// does not add any unseen group, which is what a server ignoring the paging
// parameters returns.
func (c *Client) OpenIssueGroups(ctx context.Context, repoID ID) ([]IssueGroup, error) {
	pageSize := c.opts.IssueGroupsPageSize
	seen := make(map[ID]bool)
	var groups []IssueGroup
	for page := 0; ; page++ {
		q := url.Values{
			"filter_code_repo_id": {repoID.String()},
			"per_page":            {strconv.Itoa(pageSize)},
			"page":                {strconv.Itoa(page)},
		}
		var batch []IssueGroup
		if err := c.get(ctx, issueGroupsPath, q, &batch); err != nil {
			return nil, fmt.Errorf("failed to retrieve issue groups: %w", err)
		}

		added := 0
		for _, g := range batch {
			if seen[g.ID] {
				continue
			}
			seen[g.ID] = true
			groups = append(groups, g)
			added++
		}
		c.logger.WithFields(logrus.Fields{
			"page":  page,
			"items": len(batch),
			"added": added,
		}).Debug("issue groups page retrieved")

		if len(batch) < pageSize || added == 0 {
			return groups, nil
		}
	}
}

// IssueDetails exports the open issues of each group. The exports run
// concurrently, at most MaxConcurrency at a time, and the first failure
// aborts the rest.
func (c *Client) IssueDetails(ctx context.Context, repoID ID, groupIDs []ID) (map[ID][]Issue, error) {
	details := make(map[ID][]Issue, len(groupIDs))
	if len(groupIDs) == 0 {
		return details, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(len(groupIDs), c.opts.MaxConcurrency))
	for _, groupID := range groupIDs {
		g.Go(func() error {
			issues, err := c.exportIssues(gctx, repoID, groupID)
			if err != nil {
				return err
			}
			mu.Lock()
			details[groupID] = issues
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to export issues: %w", err)
	}
	return details, nil
}

func (c *Client) exportIssues(ctx context.Context, repoID, groupID ID) ([]Issue, error) {
	q := url.Values{
		"filter_code_repo_id":   {repoID.String()},
		"filter_issue_group_id": {groupID.String()},
		"filter_status":         {"open"},
	}
	var exported []Issue
	if err := c.get(ctx, issuesExportPath, q, &exported); err != nil {
		return nil, err
	}

	// Issues of other groups must never be attached to this one.
	issues := exported[:0]
	for _, issue := range exported {
		if issue.GroupID != "" && issue.GroupID != groupID {
			c.logger.WithFields(logrus.Fields{
				"issue_group":          groupID,
				"issue":                issue.ID,
				"issue_group_reported": issue.GroupID,
			}).Warn("discarding issue exported for another group")
			continue
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, v any) error {
	u := c.endpoint.JoinPath(path)
	u.RawQuery = q.Encode()

	op := func() error {
		err := c.getOnce(ctx, u.String(), path, v)
		if err == nil || c.retryable(ctx, err) {
			return err
		}
		return backoff.Permanent(err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.RetryWait
	b := backoff.WithContext(backoff.WithMaxRetries(eb, c.opts.Retries), ctx)
	notify := func(err error, d time.Duration) {
		c.logger.WithError(err).WithField("path", path).Warnf("request failed, retrying in %v", d)
	}
	return backoff.RetryNotify(op, b, notify)
}

func (c *Client) getOnce(ctx context.Context, u, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &HTTPStatusError{
			Status: resp.StatusCode,
			Path:   path,
			Msg:    strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w from %s: %v", ErrInvalidResponse, path, err)
	}
	return nil
}

func (c *Client) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrInvalidResponse) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}
