/*
Copyright 2026 Adevinta
*/

package aikido

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrAuthentication is returned when the client credentials cannot be
// exchanged for an access token.
var ErrAuthentication = errors.New("unable to retrieve access token")

// Credentials are the client credentials of an Aikido API client.
type Credentials struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the default token endpoint.
	TokenURL string
}

// Authenticate exchanges the client credentials for an access token using
// the OAuth2 client credentials grant. The credentials travel unescaped in
// the Authorization header using HTTP Basic authentication.
func Authenticate(ctx context.Context, hc *http.Client, creds Credentials) (*oauth2.Token, error) {
	tokenURL := creds.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultAPIURL + tokenPath
	}
	cfg := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, basicAuthClient(hc, creds))

	token, err := cfg.Token(ctx)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, fmt.Errorf("%w: status %d", ErrAuthentication, retrieveErr.Response.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return token, nil
}

// basicAuthTransport sets the Authorization header of every request to the
// raw client credentials, replacing the form-escaped ones set by oauth2.
type basicAuthTransport struct {
	base       http.RoundTripper
	id, secret string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.id, t.secret)
	return t.base.RoundTrip(req)
}

func basicAuthClient(hc *http.Client, creds Credentials) *http.Client {
	var c http.Client
	if hc != nil {
		c = *hc
	}
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.Transport = &basicAuthTransport{base: base, id: creds.ClientID, secret: creds.ClientSecret}
	return &c
}
