/*
Copyright 2026 Adevinta
*/

// Package findings merges Aikido issue groups with their issues and renders
// them as a Markdown table.
package findings

import (
	"slices"

	"github.com/adevinta/vulcan-aikido-report/cmd/vulcan-aikido-report/aikido"
)

// MergedIssueGroup is an issue group with its issues attached.
type MergedIssueGroup struct {
	aikido.IssueGroup
	IssueList []aikido.Issue
}

// Merge attaches to every group the issues exported for its id. Groups keep
// their listing order. Ids present only in details get an otherwise empty
// group and are appended sorted by id.
func Merge(groups []aikido.IssueGroup, details map[aikido.ID][]aikido.Issue) []MergedIssueGroup {
	merged := make([]MergedIssueGroup, 0, len(groups))
	index := make(map[aikido.ID]int, len(groups))
	for _, g := range groups {
		if i, ok := index[g.ID]; ok {
			merged[i].IssueGroup = g
			continue
		}
		index[g.ID] = len(merged)
		merged = append(merged, MergedIssueGroup{IssueGroup: g})
	}

	var orphans []aikido.ID
	for id, issues := range details {
		i, ok := index[id]
		if !ok {
			orphans = append(orphans, id)
			continue
		}
		merged[i].IssueList = issues
	}
	slices.Sort(orphans)
	for _, id := range orphans {
		merged = append(merged, MergedIssueGroup{
			IssueGroup: aikido.IssueGroup{ID: id},
			IssueList:  details[id],
		})
	}
	return merged
}

// FilterHighAndCritical returns the groups with high or critical severity.
func FilterHighAndCritical(groups []MergedIssueGroup) []MergedIssueGroup {
	var filtered []MergedIssueGroup
	for _, g := range groups {
		switch g.Severity {
		case aikido.SeverityHigh, aikido.SeverityCritical:
			filtered = append(filtered, g)
		}
	}
	return filtered
}
