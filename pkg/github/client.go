package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBase = "https://api.github.com"

var ErrNotFound = errors.New("github: not found")

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api status %d: %s", e.Status, e.Body)
}

// Client GitHub REST API 클라이언트. 인증은 http.Client (oauth2.NewClient) 가 담당한다.
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

type User struct {
	ID          int64     `json:"id"`
	Login       string    `json:"login"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	AvatarURL   string    `json:"avatar_url"`
	Bio         string    `json:"bio"`
	Location    string    `json:"location"`
	PublicRepos int       `json:"public_repos"`
	Followers   int       `json:"followers"`
	Following   int       `json:"following"`
	CreatedAt   time.Time `json:"created_at"`
}

type Email struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

type Repo struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Language        string `json:"language"`
	StargazersCount int    `json:"stargazers_count"`
	HTMLURL         string `json:"html_url"`
	Fork            bool   `json:"fork"`
}

// CurrentUser 토큰 소유자
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.doJSON(ctx, "/user", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// PrimaryEmail 검증된 기본 이메일 (없으면 빈 문자열)
func (c *Client) PrimaryEmail(ctx context.Context) (string, error) {
	var emails []Email
	if err := c.doJSON(ctx, "/user/emails", nil, &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}

// Repos 최근 갱신 순 저장소
func (c *Client) Repos(ctx context.Context, username string, limit int) ([]Repo, error) {
	q := url.Values{}
	q.Set("sort", "updated")
	q.Set("per_page", strconv.Itoa(limit))

	var repos []Repo
	if err := c.doJSON(ctx, fmt.Sprintf("/users/%s/repos", url.PathEscape(username)), q, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// doJSON GET 요청 후 JSON 디코딩. 404 는 ErrNotFound, 403/429 는 Retry-After 만큼 한 번 기다렸다 재시도
func (c *Client) doJSON(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, path, q, out, true)
}

func (c *Client) do(ctx context.Context, path string, q url.Values, out any, retry bool) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("github request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("github http: %w", err)
	}
	defer res.Body.Close()

	if retry && (res.StatusCode == http.StatusTooManyRequests || res.StatusCode == http.StatusForbidden) {
		if sec, _ := strconv.Atoi(res.Header.Get("Retry-After")); sec > 0 {
			select {
			case <-time.After(time.Duration(sec) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			return c.do(ctx, path, q, out, false)
		}
	}

	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &APIError{Status: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	return json.NewDecoder(res.Body).Decode(out)
}
