package lastfm

import (
	"context"
	"errors"
	"net/url"
)

// Session is the credential returned by auth.getSession. Key is the long-lived
// session key used for authenticated calls on the user's behalf.
type Session struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// BuildAuthURL constructs the user authorization URL. After the user approves,
// Last.fm redirects to callbackURL with a one-shot token query parameter.
func (c *Client) BuildAuthURL(callbackURL string) (string, error) {
	if c.APIKey == "" || callbackURL == "" {
		return "", errors.New("missing api key or callback URL")
	}
	base := c.AuthBaseURL
	if base == "" {
		base = defaultAuthBaseURL
	}
	v := url.Values{}
	v.Set("api_key", c.APIKey)
	v.Set("cb", callbackURL)
	return base + "?" + v.Encode(), nil
}

// GetSession exchanges an auth token (from the authorize redirect) for a
// session key. The token is single-use and expires quickly.
func (c *Client) GetSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, errors.New("missing auth token")
	}
	params := url.Values{}
	params.Set("method", "auth.getSession")
	params.Set("token", token)
	var body struct {
		Session Session `json:"session"`
	}
	if err := c.get(ctx, params, true, &body); err != nil {
		return nil, err
	}
	if body.Session.Key == "" {
		return nil, errors.New("empty session key in last.fm response")
	}
	return &body.Session, nil
}
