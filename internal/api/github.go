package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// perPage is the page size requested from the remote API.
const perPage = 100

// Client fetches issue pages through the GitHub REST API. The cursor
// it hands back is a decimal page number, opaque to callers.
type Client struct {
	client *github.Client
}

// NewClient creates a REST API client. An empty token yields an
// unauthenticated client with much lower rate limits.
func NewClient(token string) *Client {
	var tc *http.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc = oauth2.NewClient(context.Background(), ts)
	}

	return &Client{client: github.NewClient(tc)}
}

// FetchPage returns one page of raw issue records for owner/name. An
// empty cursor starts from the first page; an empty next cursor
// signals exhaustion. Records cover both issues and pull requests
// (the remote's issue listing includes both).
func (c *Client) FetchPage(ctx context.Context, owner, name, cursor string) ([]*github.Issue, string, error) {
	page := 1
	if cursor != "" {
		p, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid page cursor %q: %w", cursor, err)
		}
		page = p
	}

	opts := &github.IssueListByRepoOptions{
		State:     "all",
		Sort:      "updated",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: perPage,
			Page:    page,
		},
	}

	issues, resp, err := c.client.Issues.ListByRepo(ctx, owner, name, opts)
	if err != nil {
		return nil, "", classifyRESTError(err, resp, page)
	}

	next := ""
	if resp.NextPage != 0 {
		next = strconv.Itoa(resp.NextPage)
	}

	return issues, next, nil
}

// classifyRESTError maps transport failures onto the fetch error
// taxonomy. Anything unrecognized is left as-is and treated as
// transient by the caller.
func classifyRESTError(err error, resp *github.Response, page int) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		reset := rateErr.Rate.Reset.Time
		return &RateLimitError{
			RetryAfter: time.Until(reset),
			ResetTime:  reset,
		}
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		retryAfter := 30 * time.Second
		if abuseErr.RetryAfter != nil {
			retryAfter = *abuseErr.RetryAfter
		}
		return &RateLimitError{RetryAfter: retryAfter}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		// GitHub reports missing access to private repositories as 404,
		// so it lands in the same bucket as bad credentials.
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return &AuthError{StatusCode: respErr.Response.StatusCode, Err: err}
		}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		// Pagination is header-driven, so a broken body can still tell
		// us where the next page is.
		next := ""
		if resp != nil && resp.NextPage != 0 {
			next = strconv.Itoa(resp.NextPage)
		} else if resp != nil {
			next = strconv.Itoa(page + 1)
		}
		return &MalformedError{Next: next, Err: err}
	}

	return err
}
