package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

// GraphQLClient fetches issue pages through the GitHub GraphQL API.
// It implements the same page contract as Client, but its cursor is a
// phase-prefixed connection cursor: issues and pull requests live in
// separate GraphQL connections, so the fetcher walks the issue
// connection first and then the pull request connection.
type GraphQLClient struct {
	client  *githubv4.Client
	perPage int
}

const (
	issuePhase = "issues:"
	prPhase    = "prs:"
)

// NewGraphQLClient creates a GraphQL API client. The GraphQL endpoint
// always requires a token.
func NewGraphQLClient(token string) *GraphQLClient {
	src := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Transport = &statusTransport{base: httpClient.Transport}
	return &GraphQLClient{
		client:  githubv4.NewClient(httpClient),
		perPage: 50,
	}
}

// Actor is the author of an issue or pull request.
type Actor struct {
	Login githubv4.String
}

type labelNode struct {
	Name  githubv4.String
	Color githubv4.String
}

type reactionGroup struct {
	Content  githubv4.String
	Reactors struct {
		TotalCount githubv4.Int
	} `graphql:"reactors"`
}

type itemNode struct {
	DatabaseID githubv4.Int `graphql:"databaseId"`
	Number     githubv4.Int
	Title      githubv4.String
	Body       githubv4.String
	State      githubv4.String
	CreatedAt  githubv4.DateTime
	UpdatedAt  githubv4.DateTime
	ClosedAt   *githubv4.DateTime
	Author     Actor
	Labels     struct {
		Nodes []labelNode
	} `graphql:"labels(first: 50)"`
	ReactionGroups []reactionGroup
}

type pageInfo struct {
	EndCursor   githubv4.String
	HasNextPage githubv4.Boolean
}

// FetchPage returns one page of records for owner/name. The returned
// records use the REST wire shape so both fetch paths feed the same
// normalizer.
func (c *GraphQLClient) FetchPage(ctx context.Context, owner, name, cursor string) ([]*github.Issue, string, error) {
	phase, after := issuePhase, ""
	switch {
	case cursor == "":
	case strings.HasPrefix(cursor, issuePhase):
		after = strings.TrimPrefix(cursor, issuePhase)
	case strings.HasPrefix(cursor, prPhase):
		phase, after = prPhase, strings.TrimPrefix(cursor, prPhase)
	default:
		return nil, "", fmt.Errorf("invalid cursor %q", cursor)
	}

	var nodes []itemNode
	var info pageInfo
	var err error
	if phase == issuePhase {
		nodes, info, err = c.fetchIssuePage(ctx, owner, name, after)
	} else {
		nodes, info, err = c.fetchPullRequestPage(ctx, owner, name, after)
	}
	if err != nil {
		return nil, "", classifyGraphQLError(err)
	}

	records := make([]*github.Issue, 0, len(nodes))
	for _, n := range nodes {
		records = append(records, convertNode(n, phase == prPhase))
	}

	next := ""
	switch {
	case bool(info.HasNextPage):
		next = phase + string(info.EndCursor)
	case phase == issuePhase:
		// Issue connection exhausted; move on to pull requests.
		next = prPhase
	}

	return records, next, nil
}

func (c *GraphQLClient) fetchIssuePage(ctx context.Context, owner, name, after string) ([]itemNode, pageInfo, error) {
	var query struct {
		Repository struct {
			Issues struct {
				Nodes    []itemNode
				PageInfo pageInfo
			} `graphql:"issues(first: $perPage, after: $cursor, orderBy: {field: UPDATED_AT, direction: DESC})"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	if err := c.client.Query(ctx, &query, c.variables(owner, name, after)); err != nil {
		return nil, pageInfo{}, fmt.Errorf("failed to query issues: %w", err)
	}

	return query.Repository.Issues.Nodes, query.Repository.Issues.PageInfo, nil
}

func (c *GraphQLClient) fetchPullRequestPage(ctx context.Context, owner, name, after string) ([]itemNode, pageInfo, error) {
	var query struct {
		Repository struct {
			PullRequests struct {
				Nodes    []itemNode
				PageInfo pageInfo
			} `graphql:"pullRequests(first: $perPage, after: $cursor, orderBy: {field: UPDATED_AT, direction: DESC})"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	if err := c.client.Query(ctx, &query, c.variables(owner, name, after)); err != nil {
		return nil, pageInfo{}, fmt.Errorf("failed to query pull requests: %w", err)
	}

	return query.Repository.PullRequests.Nodes, query.Repository.PullRequests.PageInfo, nil
}

func (c *GraphQLClient) variables(owner, name, after string) map[string]interface{} {
	var cursor *githubv4.String
	if after != "" {
		s := githubv4.String(after)
		cursor = &s
	}
	return map[string]interface{}{
		"owner":   githubv4.String(owner),
		"name":    githubv4.String(name),
		"perPage": githubv4.Int(c.perPage),
		"cursor":  cursor,
	}
}

// convertNode maps a GraphQL node onto the REST record shape.
func convertNode(n itemNode, isPullRequest bool) *github.Issue {
	issue := &github.Issue{
		ID:        github.Int64(int64(n.DatabaseID)),
		Number:    github.Int(int(n.Number)),
		Title:     github.String(string(n.Title)),
		Body:      github.String(string(n.Body)),
		State:     github.String(string(n.State)),
		CreatedAt: &github.Timestamp{Time: n.CreatedAt.Time},
		UpdatedAt: &github.Timestamp{Time: n.UpdatedAt.Time},
	}
	if n.ClosedAt != nil {
		issue.ClosedAt = &github.Timestamp{Time: n.ClosedAt.Time}
	}
	if n.Author.Login != "" {
		issue.User = &github.User{Login: github.String(string(n.Author.Login))}
	}
	if isPullRequest {
		issue.PullRequestLinks = &github.PullRequestLinks{}
	}

	for _, l := range n.Labels.Nodes {
		issue.Labels = append(issue.Labels, &github.Label{
			Name:  github.String(string(l.Name)),
			Color: github.String(string(l.Color)),
		})
	}

	if len(n.ReactionGroups) > 0 {
		issue.Reactions = &github.Reactions{}
		for _, g := range n.ReactionGroups {
			count := github.Int(int(g.Reactors.TotalCount))
			switch string(g.Content) {
			case "THUMBS_UP":
				issue.Reactions.PlusOne = count
			case "THUMBS_DOWN":
				issue.Reactions.MinusOne = count
			case "LAUGH":
				issue.Reactions.Laugh = count
			case "HOORAY":
				issue.Reactions.Hooray = count
			case "CONFUSED":
				issue.Reactions.Confused = count
			case "HEART":
				issue.Reactions.Heart = count
			case "ROCKET":
				issue.Reactions.Rocket = count
			case "EYES":
				issue.Reactions.Eyes = count
			}
		}
	}

	return issue
}

// statusTransport converts credential rejections and secondary rate
// limits into typed errors before githubv4 folds the HTTP status into
// an opaque message. The errors surface through http.Client wrapped in
// *url.Error, which errors.As unwraps.
type statusTransport struct {
	base http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		resp.Body.Close()
		return nil, &AuthError{
			StatusCode: resp.StatusCode,
			Err:        errors.New(resp.Status),
		}
	case http.StatusTooManyRequests:
		retryAfter := 30 * time.Second
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
		resp.Body.Close()
		return nil, &RateLimitError{RetryAfter: retryAfter}
	}

	return resp, nil
}

// classifyGraphQLError maps GraphQL fetch failures onto the fetch
// error taxonomy. Transport-level failures arrive already typed from
// statusTransport; primary rate limits come back as a 200 with an
// errors payload, so those still need the message check.
func classifyGraphQLError(err error) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return rateErr
	}
	if strings.Contains(err.Error(), "API rate limit") {
		return &RateLimitError{RetryAfter: time.Minute}
	}
	return err
}
