package lastfm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// User is the subset of user.getInfo we care about.
type User struct {
	Name     string `json:"name"`
	RealName string `json:"realname"`
	URL      string `json:"url"`
}

// Track is one entry from user.getRecentTracks.
type Track struct {
	Artist string
	Name   string
	URL    string
}

// GetUserInfo fetches the profile of the user the session key belongs to.
func (c *Client) GetUserInfo(ctx context.Context, sessionKey string) (*User, error) {
	if sessionKey == "" {
		return nil, errors.New("missing session key")
	}
	params := url.Values{}
	params.Set("method", "user.getInfo")
	params.Set("sk", sessionKey)
	var body struct {
		User User `json:"user"`
	}
	if err := c.get(ctx, params, true, &body); err != nil {
		return nil, err
	}
	if body.User.Name == "" {
		return nil, errors.New("empty username in last.fm response")
	}
	return &body.User, nil
}

// GetRecentTracks lists the user's most recent scrobbles, newest first. The
// currently playing track, if any, is the first entry.
func (c *Client) GetRecentTracks(ctx context.Context, user string, limit int) ([]Track, error) {
	if user == "" {
		return nil, errors.New("missing user")
	}
	if limit <= 0 {
		limit = 1
	}
	params := url.Values{}
	params.Set("method", "user.getRecentTracks")
	params.Set("user", user)
	params.Set("limit", fmt.Sprintf("%d", limit))
	var body struct {
		RecentTracks struct {
			Track []struct {
				Artist struct {
					Text string `json:"#text"`
				} `json:"artist"`
				Name string `json:"name"`
				URL  string `json:"url"`
			} `json:"track"`
		} `json:"recenttracks"`
	}
	if err := c.get(ctx, params, false, &body); err != nil {
		return nil, err
	}
	out := make([]Track, 0, len(body.RecentTracks.Track))
	for _, tr := range body.RecentTracks.Track {
		out = append(out, Track{Artist: tr.Artist.Text, Name: tr.Name, URL: tr.URL})
	}
	return out, nil
}
