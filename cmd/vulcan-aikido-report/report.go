/*
Copyright 2026 Adevinta
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/adevinta/vulcan-aikido-report/cmd/vulcan-aikido-report/aikido"
	"github.com/adevinta/vulcan-aikido-report/cmd/vulcan-aikido-report/findings"
	"github.com/adevinta/vulcan-aikido-report/cmd/vulcan-aikido-report/mrnote"
)

const (
	baseMessage = "# " + mrnote.Marker + "\n\n|   |   |\n|---|---|\n|Pipeline ID|[%s](%s)|\n|Commit sha1|%s|\n\n"

	// failedTableMessage replaces the table when it can not be rendered.
	failedTableMessage = "\nFailed to generate Aikido table\n"
)

// tableResult is the outcome of the table stage. A degraded result carries
// the placeholder message and the error that caused it.
type tableResult struct {
	Markdown string
	Degraded bool
	Err      error
}

func degraded(err error) tableResult {
	return tableResult{Markdown: failedTableMessage, Degraded: true, Err: err}
}

// run builds the report of the project and publishes it on the merge
// request. Only failures retrieving the findings are returned; a note that
// can not be posted is logged.
func run(ctx context.Context, cfg *Config, logger *logrus.Entry, out io.Writer) error {
	if cfg.DisableQuotes {
		logger.Debug("disable-quotes is set, it has no effect")
	}

	logger.Info("generating Aikido scan results table")
	table, err := buildTable(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if table.Degraded {
		logger.Errorf("failed to generate Aikido table: %v", table.Err)
	}

	msg := composeMessage(cfg, table.Markdown)
	if cfg.DryRun {
		_, err := fmt.Fprintln(out, msg)
		return err
	}

	hc := aikido.NewHTTPClient(aikido.TransportConfig{Timeout: cfg.Timeout, Proxy: &cfg.Proxy})
	notifier, err := mrnote.NewNotifier(cfg.GitLabURL, cfg.GitLabToken, hc, cfg.Retries, logger)
	if err != nil {
		logger.Errorf("unable to post the report: %v", err)
		return nil
	}
	mr := mrnote.MergeRequest{ProjectID: cfg.ProjectID, IID: cfg.MergeRequestIID}
	res := notifier.Upsert(ctx, mr, msg)
	logger.WithField("action", res.Action).Info("report processed")
	return nil
}

// buildTable retrieves the open high and critical findings of the project
// and renders them. Errors retrieving the findings are returned, rendering
// errors produce a degraded result.
func buildTable(ctx context.Context, cfg *Config, logger *logrus.Entry) (tableResult, error) {
	hc := aikido.NewHTTPClient(aikido.TransportConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Proxy:     &cfg.Proxy,
	})

	token, err := aikido.Authenticate(ctx, hc, aikido.Credentials{
		ClientID:     cfg.AikidoClientID,
		ClientSecret: cfg.AikidoClientSecret,
		TokenURL:     cfg.AikidoTokenURL,
	})
	if err != nil {
		return tableResult{}, err
	}

	client, err := aikido.NewClient(cfg.AikidoAPIURL, aikido.WithToken(hc, token), aikido.Options{
		MaxConcurrency:      cfg.MaxConcurrency,
		IssueGroupsPageSize: cfg.IssueGroupsPageSize,
		Retries:             uint64(cfg.Retries),
	}, logger)
	if err != nil {
		return tableResult{}, err
	}

	repoID, err := client.RepositoryID(ctx, cfg.ProjectName)
	if err != nil {
		return tableResult{}, err
	}
	logger = logger.WithField("repository_id", repoID)

	groups, err := client.OpenIssueGroups(ctx, repoID)
	if err != nil {
		return tableResult{}, err
	}
	ids := make([]aikido.ID, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	details, err := client.IssueDetails(ctx, repoID, ids)
	if err != nil {
		return tableResult{}, err
	}

	merged := findings.Merge(groups, details)
	if logger.Logger.IsLevelEnabled(logrus.DebugLevel) {
		if content, err := json.Marshal(merged); err == nil {
			logger.Debugf("merged issue groups: %s", content)
		}
	}
	filtered := findings.FilterHighAndCritical(merged)
	logger.WithFields(logrus.Fields{
		"issue_groups":  len(merged),
		"high_critical": len(filtered),
	}).Info("findings retrieved")

	return renderTable(cfg, repoID, filtered), nil
}

func renderTable(cfg *Config, repoID aikido.ID, groups []findings.MergedIssueGroup) (res tableResult) {
	defer func() {
		if r := recover(); r != nil {
			res = degraded(fmt.Errorf("panic rendering table: %v", r))
		}
	}()

	renderer, err := findings.NewRenderer(cfg.ProjectURL, cfg.Branch, cfg.AikidoDashboardURL, repoID)
	if err != nil {
		return degraded(err)
	}
	return tableResult{Markdown: renderer.Render(groups)}
}

// composeMessage returns the body of the merge request note.
func composeMessage(cfg *Config, table string) string {
	return fmt.Sprintf(baseMessage, cfg.PipelineID, cfg.PipelineURL, cfg.CommitSHA) + "\n\n" + table
}
