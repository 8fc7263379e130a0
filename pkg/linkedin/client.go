package linkedin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBase = "https://api.linkedin.com"

var ErrNotFound = errors.New("linkedin: not found")

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("linkedin api status %d: %s", e.Status, e.Body)
}

// Client LinkedIn OpenID userinfo 와 lite profile 조회
type Client struct {
	http    *http.Client
	baseURL string
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func New(httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	c := &Client{http: httpClient, baseURL: defaultBase}
	for _, o := range opts {
		o(c)
	}
	return c
}

type UserInfo struct {
	Sub           string `json:"sub"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

type liteProfile struct {
	LocalizedHeadline string `json:"localizedHeadline"`
	VanityName        string `json:"vanityName"`
}

// Profile userinfo 와 헤드라인
type Profile struct {
	UserInfo
	Headline   string
	ProfileURL string
}

// Me 토큰 소유자 프로필. 헤드라인은 권한이 없으면 비워 둔다.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var info UserInfo
	if err := c.doJSON(ctx, "/v2/userinfo", &info); err != nil {
		return nil, err
	}
	p := &Profile{UserInfo: info}

	var lite liteProfile
	if err := c.doJSON(ctx, "/v2/me", &lite); err == nil {
		p.Headline = lite.LocalizedHeadline
		if lite.VanityName != "" {
			p.ProfileURL = "https://www.linkedin.com/in/" + lite.VanityName
		}
	}
	return p, nil
}

func (c *Client) doJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("linkedin request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("linkedin http: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &APIError{Status: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return json.NewDecoder(res.Body).Decode(out)
}
