/*
Copyright 2026 Adevinta
*/

package findings

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/adevinta/vulcan-aikido-report/cmd/vulcan-aikido-report/aikido"
)

const (
	// NoIssuesMessage is rendered when no group survives the filter.
	NoIssuesMessage = "\n# SAST scan results\nNo high or critical issues found in codebase ✅"

	tableHeader = "|Issue description|File location or affected package|Severity|Link|\n|---|---|---|---|\n"

	leakedSecretType       = "leaked_secret"
	dockerContainerSurface = "docker_container"

	// Number of file links shown before the rest are folded.
	visibleFiles = 3
)

var (
	caser = cases.Title(language.English)

	severityColors = map[string]string{
		aikido.SeverityCritical: "red",
		aikido.SeverityHigh:     "orange",
		aikido.SeverityMedium:   "yellow",
	}

	cellReplacer = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ", "\r", " ")
)

// Renderer renders issue groups of one repository as a Markdown table.
type Renderer struct {
	project      *url.URL
	branch       string
	dashboard    *url.URL
	repositoryID aikido.ID
}

// NewRenderer returns a renderer that links files to the given branch of
// the GitLab project and issues to the Aikido dashboard.
func NewRenderer(projectURL, branch, dashboardURL string, repositoryID aikido.ID) (*Renderer, error) {
	project, err := absoluteURL(projectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid project url: %w", err)
	}
	if dashboardURL == "" {
		dashboardURL = aikido.DefaultAPIURL
	}
	dashboard, err := absoluteURL(dashboardURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dashboard url: %w", err)
	}
	if branch == "" {
		return nil, errors.New("branch is empty")
	}
	return &Renderer{
		project:      project,
		branch:       branch,
		dashboard:    dashboard,
		repositoryID: repositoryID,
	}, nil
}

func absoluteURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute url", s)
	}
	return u, nil
}

// Render returns the Markdown for the given groups. The count includes the
// groups that are not rendered as rows.
func (r *Renderer) Render(groups []MergedIssueGroup) string {
	if len(groups) == 0 {
		return NoIssuesMessage
	}

	var table strings.Builder
	table.WriteString(tableHeader)
	for _, g := range groups {
		if g.Type == leakedSecretType {
			continue
		}
		fmt.Fprintf(&table, "|%s|%s|%s|%s|\n",
			cell(description(g)),
			r.locations(g),
			severity(g.Severity),
			r.issueURL(g.ID),
		)
	}

	return fmt.Sprintf(
		"\n# SAST scan results\n%d issues found in codebase❗\n<details><summary>SAST scan results</summary>\n\n%s\n</details>",
		len(groups), table.String(),
	)
}

func description(g MergedIssueGroup) string {
	if g.Description != "" {
		return g.Description
	}
	for _, issue := range g.IssueList {
		if issue.AffectedPackage != "" {
			return issue.AffectedPackage
		}
	}
	return caser.String(strings.ReplaceAll(g.Type, "_", " "))
}

// locations lists the affected files of a group, or the affected packages
// for issues without file. An issue found in a docker container points to
// the Dockerfile and ends the list. Entries after the third file are folded.
func (r *Renderer) locations(g MergedIssueGroup) string {
	var (
		b      strings.Builder
		files  int
		folded bool
	)
	add := func(entry string) {
		if files >= visibleFiles && !folded {
			b.WriteString("<details><summary>view more files</summary>")
			folded = true
		}
		b.WriteString(entry)
	}

	for _, issue := range g.IssueList {
		if issue.AffectedFile == "" {
			if issue.AttackSurface == dockerContainerSurface {
				add(fmt.Sprintf("[Dockerfile](%s)<br>", r.blobURL("Dockerfile")))
				break
			}
			pkg := cell(issue.AffectedPackage)
			entry := fmt.Sprintf("Package: `%s`<br>", pkg)
			if pkg == "" || strings.Contains(b.String(), entry) {
				continue
			}
			add(entry)
			continue
		}

		add(fmt.Sprintf("[%s](%s)<br>", cell(issue.AffectedFile), r.blobURL(issue.AffectedFile)))
		files++
	}
	if folded {
		b.WriteString("</details>")
	}
	return b.String()
}

func (r *Renderer) blobURL(file string) string {
	return r.project.JoinPath("-", "blob", r.branch, file).String()
}

func (r *Renderer) issueURL(groupID aikido.ID) string {
	u := r.dashboard.JoinPath("repositories", r.repositoryID.String())
	u.RawQuery = url.Values{"sidebarIssue": {groupID.String()}}.Encode()
	return u.String()
}

func severity(s string) string {
	color, ok := severityColors[s]
	if !ok {
		return s
	}
	return fmt.Sprintf("$`\\textcolor{%s}{\\text{%s}}`$", color, s)
}

// cell makes s safe to be placed inside a table cell.
func cell(s string) string {
	return strings.TrimSpace(cellReplacer.Replace(s))
}
