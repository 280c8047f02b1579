/*
Copyright 2026 Adevinta
*/

package findings

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adevinta/vulcan-aikido-report/cmd/vulcan-aikido-report/aikido"
)

const (
	testProject   = "https://gitlab.example.com/team/app"
	testDashboard = "https://app.aikido.dev"
	blobPrefix    = testProject + "/-/blob/main/"
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(testProject, "main", testDashboard, "42")
	if err != nil {
		t.Fatalf("unexpected error creating renderer: %v", err)
	}
	return r
}

func fileIssues(files ...string) []aikido.Issue {
	var issues []aikido.Issue
	for _, f := range files {
		issues = append(issues, aikido.Issue{AffectedFile: f})
	}
	return issues
}

func TestRenderer_RenderNoIssues(t *testing.T) {
	r := newTestRenderer(t)
	for _, groups := range [][]MergedIssueGroup{nil, {}} {
		got := r.Render(groups)
		if got != NoIssuesMessage {
			t.Errorf("got %q, want %q", got, NoIssuesMessage)
		}
		if strings.Contains(got, "|") {
			t.Errorf("unexpected table markup in %q", got)
		}
	}
}

func TestRenderer_Render(t *testing.T) {
	groups := []MergedIssueGroup{
		{
			IssueGroup: aikido.IssueGroup{ID: "1", Type: "sast", Description: "SQL injection", Severity: "critical"},
			IssueList:  fileIssues("api/db.go"),
		},
		{
			IssueGroup: aikido.IssueGroup{ID: "2", Type: "open_source", Severity: "high"},
			IssueList: []aikido.Issue{
				{AffectedPackage: "lodash"},
				{AffectedPackage: "lodash"},
			},
		},
		{
			IssueGroup: aikido.IssueGroup{ID: "3", Type: "leaked_secret", Description: "AWS key", Severity: "critical"},
			IssueList:  fileIssues("config.yml"),
		},
	}

	want := "\n# SAST scan results\n3 issues found in codebase❗\n<details><summary>SAST scan results</summary>\n\n" +
		"|Issue description|File location or affected package|Severity|Link|\n|---|---|---|---|\n" +
		"|SQL injection|[api/db.go](" + blobPrefix + "api/db.go)<br>|$`\\textcolor{red}{\\text{critical}}`$|https://app.aikido.dev/repositories/42?sidebarIssue=1|\n" +
		"|lodash|Package: `lodash`<br>|$`\\textcolor{orange}{\\text{high}}`$|https://app.aikido.dev/repositories/42?sidebarIssue=2|\n" +
		"\n</details>"

	r := newTestRenderer(t)
	got := r.Render(groups)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected table (-want +got):\n%v", diff)
	}
	if strings.Contains(got, "AWS key") {
		t.Errorf("leaked secret rendered in %q", got)
	}

	// Rendering is stable for the same input.
	if again := r.Render(groups); again != got {
		t.Errorf("second render differs:\n%q\n%q", got, again)
	}
}

func TestRenderer_Locations(t *testing.T) {
	link := func(f string) string {
		return "[" + f + "](" + blobPrefix + f + ")<br>"
	}
	const (
		fold    = "<details><summary>view more files</summary>"
		endFold = "</details>"
	)

	tests := []struct {
		name   string
		issues []aikido.Issue
		want   string
	}{
		{
			name:   "Two files are not folded",
			issues: fileIssues("a.go", "b.go"),
			want:   link("a.go") + link("b.go"),
		},
		{
			name:   "Three files are not folded",
			issues: fileIssues("a.go", "b.go", "c.go"),
			want:   link("a.go") + link("b.go") + link("c.go"),
		},
		{
			name:   "Files after the third are folded",
			issues: fileIssues("a.go", "b.go", "c.go", "d.go", "e.go"),
			want:   link("a.go") + link("b.go") + link("c.go") + fold + link("d.go") + link("e.go") + endFold,
		},
		{
			name: "Docker container points to the Dockerfile once",
			issues: []aikido.Issue{
				{AttackSurface: "docker_container", AffectedPackage: "openssl"},
				{AffectedFile: "main.go"},
				{AttackSurface: "docker_container", AffectedPackage: "zlib"},
			},
			want: link("Dockerfile"),
		},
		{
			name: "Docker container after files",
			issues: []aikido.Issue{
				{AffectedFile: "main.go"},
				{AttackSurface: "docker_container"},
				{AffectedFile: "other.go"},
			},
			want: link("main.go") + link("Dockerfile"),
		},
		{
			name: "Packages are listed once",
			issues: []aikido.Issue{
				{AffectedPackage: "lodash"},
				{AffectedPackage: "express"},
				{AffectedPackage: "lodash"},
				{AffectedPackage: ""},
			},
			want: "Package: `lodash`<br>Package: `express`<br>",
		},
		{
			name: "Package named like a file",
			issues: []aikido.Issue{
				{AffectedFile: "main.go"},
				{AffectedPackage: "main"},
			},
			want: link("main.go") + "Package: `main`<br>",
		},
		{
			name: "Entries after the third file are folded",
			issues: []aikido.Issue{
				{AffectedFile: "a.go"},
				{AffectedFile: "b.go"},
				{AffectedFile: "c.go"},
				{AffectedPackage: "lodash"},
			},
			want: link("a.go") + link("b.go") + link("c.go") + fold + "Package: `lodash`<br>" + endFold,
		},
		{
			name: "No issues",
			want: "",
		},
	}

	r := newTestRenderer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.locations(MergedIssueGroup{IssueList: tt.issues})
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("unexpected locations (-want +got):\n%v", diff)
			}
		})
	}
}

func TestDescription(t *testing.T) {
	tests := []struct {
		name  string
		group MergedIssueGroup
		want  string
	}{
		{
			name:  "Group description",
			group: MergedIssueGroup{IssueGroup: aikido.IssueGroup{Description: "XSS", Type: "sast"}},
			want:  "XSS",
		},
		{
			name: "First affected package",
			group: MergedIssueGroup{
				IssueGroup: aikido.IssueGroup{Type: "open_source"},
				IssueList:  []aikido.Issue{{AffectedFile: "go.mod"}, {AffectedPackage: "golang.org/x/net"}, {AffectedPackage: "other"}},
			},
			want: "golang.org/x/net",
		},
		{
			name:  "Issue type",
			group: MergedIssueGroup{IssueGroup: aikido.IssueGroup{Type: "open_source"}},
			want:  "Open Source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := description(tt.group); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"critical", "$`\\textcolor{red}{\\text{critical}}`$"},
		{"high", "$`\\textcolor{orange}{\\text{high}}`$"},
		{"medium", "$`\\textcolor{yellow}{\\text{medium}}`$"},
		{"low", "low"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := severity(tt.in); got != tt.want {
			t.Errorf("severity(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCell(t *testing.T) {
	got := cell(" a|b\r\nc\nd ")
	if want := `a\|b c d`; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNewRenderer(t *testing.T) {
	tests := []struct {
		name      string
		project   string
		branch    string
		dashboard string
		wantErr   bool
	}{
		{name: "Valid", project: testProject, branch: "main", dashboard: testDashboard},
		{name: "Default dashboard", project: testProject, branch: "main"},
		{name: "Relative project", project: "team/app", branch: "main", wantErr: true},
		{name: "Invalid dashboard", project: testProject, branch: "main", dashboard: "://", wantErr: true},
		{name: "Missing branch", project: testProject, dashboard: testDashboard, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRenderer(tt.project, tt.branch, tt.dashboard, "1")
			if (err != nil) != tt.wantErr {
				t.Errorf("got error %v, want error: %v", err, tt.wantErr)
			}
		})
	}
}

func TestRenderer_IssueURL(t *testing.T) {
	r, err := NewRenderer(testProject, "feature/login", "https://aikido.example.com/", "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := r.issueURL("1001"), "https://aikido.example.com/repositories/42?sidebarIssue=1001"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := r.blobURL("src/app.go"), testProject+"/-/blob/feature/login/src/app.go"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
