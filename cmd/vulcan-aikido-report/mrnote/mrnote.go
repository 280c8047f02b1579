/*
Copyright 2026 Adevinta
*/

// Package mrnote keeps a single report comment up to date on a GitLab merge
// request.
package mrnote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

const (
	// Marker identifies the note owned by the report.
	Marker = "Security tooling scan results"

	notesPerPage = 100
)

// Action is the outcome of an [Notifier.Upsert].
type Action string

const (
	NoteCreated Action = "created"
	NoteUpdated Action = "updated"
	NoteFailed  Action = "failed"
)

// MergeRequest identifies a merge request of a project.
type MergeRequest struct {
	ProjectID int
	IID       int
}

// Result describes what an upsert did. Note is nil when the note could not
// be posted.
type Result struct {
	Action Action
	Note   *gitlab.Note
}

type notesAPI interface {
	ListMergeRequestNotes(pid any, mergeRequest int, opt *gitlab.ListMergeRequestNotesOptions, options ...gitlab.RequestOptionFunc) ([]*gitlab.Note, *gitlab.Response, error)
	CreateMergeRequestNote(pid any, mergeRequest int, opt *gitlab.CreateMergeRequestNoteOptions, options ...gitlab.RequestOptionFunc) (*gitlab.Note, *gitlab.Response, error)
	UpdateMergeRequestNote(pid any, mergeRequest, note int, opt *gitlab.UpdateMergeRequestNoteOptions, options ...gitlab.RequestOptionFunc) (*gitlab.Note, *gitlab.Response, error)
}

// Notifier creates or updates the report note of merge requests.
type Notifier struct {
	notes  notesAPI
	logger *logrus.Entry
}

// NewNotifier returns a notifier for the GitLab instance at baseURL. The
// token may come as "prefix:token", in which case only the token is used.
// A nil hc selects the default http client.
func NewNotifier(baseURL, token string, hc *http.Client, retries int, logger *logrus.Entry) (*Notifier, error) {
	opts := []gitlab.ClientOptionFunc{
		gitlab.WithBaseURL(NormalizeURL(baseURL)),
		gitlab.WithCustomRetryMax(retries),
	}
	if hc != nil {
		opts = append(opts, gitlab.WithHTTPClient(hc))
	}
	client, err := gitlab.NewClient(ParseToken(token), opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create GitLab client: %w", err)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Notifier{notes: client.Notes, logger: logger}, nil
}

// ParseToken returns the part of token after the first colon, or token
// itself when it has none.
func ParseToken(token string) string {
	if _, after, found := strings.Cut(token, ":"); found {
		return after
	}
	return token
}

// NormalizeURL prefixes u with https:// when it has no scheme.
func NormalizeURL(u string) string {
	if strings.Contains(u, "://") {
		return u
	}
	return "https://" + u
}

// Upsert updates the first note of the merge request containing [Marker]
// with body, or creates a new note when there is none. Failures are logged
// and reported with [NoteFailed]; they never abort the caller.
func (n *Notifier) Upsert(ctx context.Context, mr MergeRequest, body string) Result {
	logger := n.logger.WithFields(logrus.Fields{
		"project_id":        mr.ProjectID,
		"merge_request_iid": mr.IID,
	})

	existing, err := n.find(ctx, mr)
	if err != nil {
		logger.Warnf("failed to get notes for merge request: %v", err)
	}

	if existing != nil {
		logger = logger.WithField("note_id", existing.ID)
		opt := &gitlab.UpdateMergeRequestNoteOptions{Body: gitlab.Ptr(body)}
		note, resp, err := n.notes.UpdateMergeRequestNote(mr.ProjectID, mr.IID, existing.ID, opt, gitlab.WithContext(ctx))
		if err := checkStatus(resp, err, http.StatusOK); err != nil {
			logger.Errorf("failed to update note for merge request: %v", err)
			return Result{Action: NoteFailed}
		}
		logger.Info("updated note")
		return Result{Action: NoteUpdated, Note: note}
	}

	logger.Info("no note found, adding a new one")
	opt := &gitlab.CreateMergeRequestNoteOptions{Body: gitlab.Ptr(body)}
	note, resp, err := n.notes.CreateMergeRequestNote(mr.ProjectID, mr.IID, opt, gitlab.WithContext(ctx))
	if err := checkStatus(resp, err, http.StatusCreated); err != nil {
		logger.Errorf("failed to add note to merge request: %v", err)
		return Result{Action: NoteFailed}
	}
	logger.WithField("note_id", note.ID).Info("created note")
	return Result{Action: NoteCreated, Note: note}
}

// find returns the first note containing the marker, or nil.
func (n *Notifier) find(ctx context.Context, mr MergeRequest) (*gitlab.Note, error) {
	opt := &gitlab.ListMergeRequestNotesOptions{
		ListOptions: gitlab.ListOptions{PerPage: notesPerPage, Page: 1},
	}
	for {
		notes, resp, err := n.notes.ListMergeRequestNotes(mr.ProjectID, mr.IID, opt, gitlab.WithContext(ctx))
		if err := checkStatus(resp, err, http.StatusOK); err != nil {
			return nil, err
		}
		for _, note := range notes {
			if strings.Contains(note.Body, Marker) {
				return note, nil
			}
		}
		if resp.NextPage == 0 {
			return nil, nil
		}
		opt.Page = resp.NextPage
	}
}

func checkStatus(resp *gitlab.Response, err error, want int) error {
	if err != nil {
		return err
	}
	if resp == nil || resp.Response == nil {
		return errors.New("empty response")
	}
	if resp.StatusCode != want {
		return fmt.Errorf("unexpected status code %d, expected %d", resp.StatusCode, want)
	}
	return nil
}
