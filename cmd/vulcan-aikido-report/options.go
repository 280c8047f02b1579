/*
Copyright 2026 Adevinta
*/

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/net/http/httpproxy"

	"github.com/adevinta/vulcan-aikido-report/cmd/vulcan-aikido-report/aikido"
)

const (
	defaultEnvFile = ".env"
	defaultTimeout = 30 * time.Second
)

var (
	// errNotMergeRequest is returned when the pipeline does not belong to a
	// merge request. It is not a failure.
	errNotMergeRequest = errors.New("not running in merge request")

	errMissingArguments = errors.New("missing required arguments")
)

// option is a command line flag that defaults to an environment variable.
// The first non-empty variable among env and aliases is used.
type option struct {
	flag     string
	env      string
	aliases  []string
	usage    string
	def      string
	required bool
}

var options = []option{
	{flag: "gitlab-url", env: "CI_SERVER_URL", usage: "URL of the GitLab instance", required: true},
	{flag: "gitlab-token", env: "GL_TOKEN", usage: "GitLab access token, optionally as prefix:token", required: true},
	{flag: "repo-id", env: "CI_PROJECT_ID", usage: "GitLab project id", required: true},
	{flag: "mr-iid", env: "CI_MERGE_REQUEST_IID", usage: "merge request iid"},
	{flag: "project-url", env: "CI_PROJECT_URL", usage: "URL of the GitLab project", required: true},
	{flag: "project-name", env: "CI_PROJECT_NAME", usage: "name of the project in Aikido", required: true},
	{flag: "branch", env: "CI_COMMIT_REF_NAME", usage: "branch the links point to", required: true},
	{flag: "pipeline-id", env: "CI_PIPELINE_ID", usage: "id of the pipeline", required: true},
	{flag: "pipeline-url", env: "CI_PIPELINE_URL", usage: "URL of the pipeline", required: true},
	{flag: "commit-sha", env: "CI_COMMIT_SHA", usage: "commit of the pipeline", required: true},
	{flag: "aikido-client-id", env: "AIKIDO_CLIENT_ID", usage: "Aikido API client id", required: true},
	{flag: "aikido-client-secret", env: "AIKIDO_CLIENT_SECRET", usage: "Aikido API client secret", required: true},
	{flag: "disable-quotes", env: "DISABLE_QUOTES", usage: "accepted for compatibility, has no effect"},
	{flag: "aikido-api-url", env: "AIKIDO_API_URL", usage: "Aikido API base URL", def: aikido.DefaultAPIURL},
	{flag: "aikido-token-url", env: "AIKIDO_TOKEN_URL", usage: "Aikido OAuth2 token URL (default <aikido-api-url>/api/oauth/token)"},
	{flag: "aikido-dashboard-url", env: "AIKIDO_DASHBOARD_URL", usage: "Aikido dashboard URL used in links", def: aikido.DefaultAPIURL},
	{flag: "max-concurrency", env: "AIKIDO_MAX_CONCURRENCY", usage: "maximum concurrent issue exports", def: strconv.Itoa(aikido.DefaultMaxConcurrency)},
	{flag: "issue-groups-page-size", env: "AIKIDO_ISSUE_GROUPS_PAGE_SIZE", usage: "page size when listing issue groups", def: strconv.Itoa(aikido.DefaultIssueGroupsPageSize)},
	{flag: "rate-limit", env: "AIKIDO_RATE_LIMIT", usage: "maximum Aikido requests per second, 0 is unlimited", def: "0"},
	{flag: "retries", env: "AIKIDO_RETRIES", usage: "retries of failed requests", def: "0"},
	{flag: "timeout", env: "AIKIDO_HTTP_TIMEOUT", usage: "timeout of every HTTP request", def: defaultTimeout.String()},
	{flag: "https-proxy", env: "HTTPS_PROXY", aliases: []string{"https_proxy"}, usage: "proxy for HTTPS requests"},
	{flag: "http-proxy", env: "HTTP_PROXY", aliases: []string{"http_proxy"}, usage: "proxy for HTTP requests"},
	{flag: "no-proxy", env: "NO_PROXY", aliases: []string{"no_proxy"}, usage: "hosts excluded from the proxy"},
	{flag: "log-level", env: "LOG_LEVEL", usage: "log level", def: logrus.InfoLevel.String()},
	{flag: "log-format", env: "LOG_FORMAT", usage: "log format, text or json", def: "text"},
}

// Config holds the settings of a run.
type Config struct {
	GitLabURL       string
	GitLabToken     string
	ProjectID       int
	MergeRequestIID int

	ProjectURL  string
	ProjectName string
	Branch      string
	PipelineID  string
	PipelineURL string
	CommitSHA   string

	AikidoClientID     string
	AikidoClientSecret string
	AikidoAPIURL       string
	AikidoTokenURL     string
	AikidoDashboardURL string

	DisableQuotes       bool
	MaxConcurrency      int
	IssueGroupsPageSize int
	RateLimit           float64
	Retries             int
	Timeout             time.Duration
	Proxy               httpproxy.Config

	LogLevel  logrus.Level
	LogFormat string
	DryRun    bool
}

// envLookup resolves the value of an environment variable.
type envLookup func(key string) (string, bool)

// bindOptions registers a string flag per option.
func bindOptions(fs *pflag.FlagSet) {
	for _, o := range options {
		fs.String(o.flag, "", fmt.Sprintf("%s (env %s)", o.usage, o.env))
	}
}

// envWithDotenv returns a lookup that falls back to the variables of the
// given dotenv file. Variables already present in the environment win. A
// missing file is an error only when it was explicitly requested.
func envWithDotenv(lookup envLookup, path string, explicit bool) (envLookup, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return lookup, nil
		}
		return nil, fmt.Errorf("unable to read env file %s: %w", path, err)
	}
	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}

// resolveOptions returns the value of every option. Flags set on the command
// line take precedence over the environment, which takes precedence over the
// option default.
func resolveOptions(fs *pflag.FlagSet, lookup envLookup) (map[string]string, error) {
	values := make(map[string]string, len(options))
	for _, o := range options {
		v, err := fs.GetString(o.flag)
		if err != nil {
			return nil, err
		}
		if !fs.Changed(o.flag) {
			for _, name := range append([]string{o.env}, o.aliases...) {
				if env, ok := lookup(name); ok && strings.TrimSpace(env) != "" {
					v = env
					break
				}
			}
		}
		v = strings.TrimSpace(v)
		if v == "" {
			v = o.def
		}
		values[o.flag] = v
	}
	return values, nil
}

// loadConfig builds the configuration from the resolved option values. It
// returns errNotMergeRequest when no merge request iid is set, and
// errMissingArguments after logging every required option without value.
func loadConfig(values map[string]string, logger *logrus.Entry) (*Config, error) {
	if values["mr-iid"] == "" {
		return nil, errNotMergeRequest
	}

	missing := false
	for _, o := range options {
		if o.required && values[o.flag] == "" {
			logger.Errorf("Argument %s is not set", o.flag)
			missing = true
		}
	}
	if missing {
		return nil, errMissingArguments
	}

	cfg := &Config{
		GitLabURL:          values["gitlab-url"],
		GitLabToken:        values["gitlab-token"],
		ProjectURL:         values["project-url"],
		ProjectName:        values["project-name"],
		Branch:             values["branch"],
		PipelineID:         values["pipeline-id"],
		PipelineURL:        values["pipeline-url"],
		CommitSHA:          values["commit-sha"],
		AikidoClientID:     values["aikido-client-id"],
		AikidoClientSecret: values["aikido-client-secret"],
		AikidoAPIURL:       strings.TrimSuffix(values["aikido-api-url"], "/"),
		AikidoTokenURL:     values["aikido-token-url"],
		AikidoDashboardURL: values["aikido-dashboard-url"],
		Proxy: httpproxy.Config{
			HTTPSProxy: values["https-proxy"],
			HTTPProxy:  values["http-proxy"],
			NoProxy:    values["no-proxy"],
		},
		LogFormat: values["log-format"],
	}
	if cfg.AikidoTokenURL == "" {
		cfg.AikidoTokenURL = cfg.AikidoAPIURL + "/api/oauth/token"
	}

	var err error
	if cfg.ProjectID, err = parseInt(values, "repo-id"); err != nil {
		return nil, err
	}
	if cfg.MergeRequestIID, err = parseInt(values, "mr-iid"); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrency, err = parseInt(values, "max-concurrency"); err != nil {
		return nil, err
	}
	if cfg.IssueGroupsPageSize, err = parseInt(values, "issue-groups-page-size"); err != nil {
		return nil, err
	}
	if cfg.Retries, err = parseInt(values, "retries"); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = strconv.ParseFloat(values["rate-limit"], 64); err != nil {
		return nil, fmt.Errorf("invalid rate-limit %q: %w", values["rate-limit"], err)
	}
	if cfg.Timeout, err = time.ParseDuration(values["timeout"]); err != nil {
		return nil, fmt.Errorf("invalid timeout %q: %w", values["timeout"], err)
	}
	if v := values["disable-quotes"]; v != "" {
		if cfg.DisableQuotes, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid disable-quotes %q: %w", v, err)
		}
	}
	if cfg.LogLevel, err = logrus.ParseLevel(values["log-level"]); err != nil {
		return nil, fmt.Errorf("invalid log-level: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseInt(values map[string]string, flag string) (int, error) {
	n, err := strconv.Atoi(values[flag])
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", flag, values[flag], err)
	}
	return n, nil
}

func (c *Config) validate() error {
	if c.MaxConcurrency <= 0 {
		return errors.New("max-concurrency must be greater than 0")
	}
	if c.IssueGroupsPageSize <= 0 {
		return errors.New("issue-groups-page-size must be greater than 0")
	}
	if c.RateLimit < 0 {
		return errors.New("rate-limit can not be negative")
	}
	if c.Retries < 0 {
		return errors.New("retries can not be negative")
	}
	if c.Timeout < 0 {
		return errors.New("timeout can not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log-format %q", c.LogFormat)
	}
	return nil
}
