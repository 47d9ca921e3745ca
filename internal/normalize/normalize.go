// Package normalize converts raw remote records into the local entity
// shapes. It is pure: no I/O, no partial failure. A record either
// normalizes cleanly or is rejected and counted.
package normalize

import (
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/wesm/gh-offline/internal/models"
)

// Page transforms one page of raw records into item bundles for the
// repository identified by repoID. The second return value is the
// number of records rejected as malformed.
func Page(repoID int64, records []*github.Issue) ([]models.ItemBundle, int) {
	bundles := make([]models.ItemBundle, 0, len(records))
	malformed := 0

	for _, record := range records {
		bundle, ok := Record(repoID, record)
		if !ok {
			malformed++
			continue
		}
		bundles = append(bundles, bundle)
	}

	return bundles, malformed
}

// Record normalizes a single raw record. ok is false when the record
// lacks the identity or timestamps the merge depends on.
func Record(repoID int64, record *github.Issue) (models.ItemBundle, bool) {
	if record == nil {
		return models.ItemBundle{}, false
	}

	state := normalizeState(record.GetState())
	if record.GetID() == 0 || record.GetNumber() <= 0 || state == "" ||
		record.GetCreatedAt().Time.IsZero() || record.GetUpdatedAt().Time.IsZero() {
		return models.ItemBundle{}, false
	}

	kind := models.KindIssue
	if record.IsPullRequest() {
		kind = models.KindPullRequest
	}

	item := models.Item{
		ID:           record.GetID(),
		RepositoryID: repoID,
		Number:       record.GetNumber(),
		Kind:         kind,
		Title:        record.GetTitle(),
		Body:         record.GetBody(),
		State:        state,
		Author:       record.GetUser().GetLogin(),
		CreatedAt:    record.GetCreatedAt().Time,
		UpdatedAt:    record.GetUpdatedAt().Time,
	}
	if record.ClosedAt != nil {
		t := record.GetClosedAt().Time
		item.ClosedAt = &t
	}

	return models.ItemBundle{
		Item:      item,
		Labels:    normalizeLabels(repoID, record.Labels),
		Reactions: normalizeReactions(record.GetID(), record.Reactions),
	}, true
}

// normalizeState maps remote state strings onto the two-state local
// model. GraphQL reports MERGED for merged pull requests; locally
// those are closed.
func normalizeState(state string) string {
	switch strings.ToLower(state) {
	case "open":
		return models.StateOpen
	case "closed", "merged":
		return models.StateClosed
	}
	return ""
}

// normalizeLabels resolves embedded label sub-records, deduplicating
// by name within the record.
func normalizeLabels(repoID int64, raw []*github.Label) []models.Label {
	var labels []models.Label
	seen := make(map[string]bool)

	for _, l := range raw {
		name := l.GetName()
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		labels = append(labels, models.Label{
			RepositoryID: repoID,
			Name:         name,
			Color:        l.GetColor(),
		})
	}

	return labels
}

// normalizeReactions flattens the embedded reaction summary into
// per-kind aggregate counts, keeping only kinds with a positive count.
func normalizeReactions(itemID int64, raw *github.Reactions) []models.ReactionCount {
	if raw == nil {
		return nil
	}

	counts := []struct {
		kind  string
		count int
	}{
		{"+1", raw.GetPlusOne()},
		{"-1", raw.GetMinusOne()},
		{"laugh", raw.GetLaugh()},
		{"hooray", raw.GetHooray()},
		{"confused", raw.GetConfused()},
		{"heart", raw.GetHeart()},
		{"rocket", raw.GetRocket()},
		{"eyes", raw.GetEyes()},
	}

	var reactions []models.ReactionCount
	for _, c := range counts {
		if c.count > 0 {
			reactions = append(reactions, models.ReactionCount{
				ItemID: itemID,
				Kind:   c.kind,
				Count:  c.count,
			})
		}
	}

	return reactions
}
