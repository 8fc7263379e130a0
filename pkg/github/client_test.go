package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.Client(), WithBaseURL(srv.URL))
}

func TestCurrentUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":42,"login":"octo","public_repos":7,"followers":3,"created_at":"2020-01-02T03:04:05Z"}`))
	})

	u, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.ID)
	assert.Equal(t, "octo", u.Login)
	assert.Equal(t, 7, u.PublicRepos)
	assert.Equal(t, 2020, u.CreatedAt.Year())
}

func TestRepos(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/octo/repos", r.URL.Path)
		assert.Equal(t, "updated", r.URL.Query().Get("sort"))
		assert.Equal(t, "10", r.URL.Query().Get("per_page"))
		_, _ = w.Write([]byte(`[{"name":"a","language":"Go","stargazers_count":5},{"name":"b","language":"","stargazers_count":1}]`))
	})

	repos, err := c.Repos(context.Background(), "octo", 10)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, 5, repos[0].StargazersCount)
}

func TestPrimaryEmail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"email":"x@y.z","primary":false,"verified":true},{"email":"me@octo.dev","primary":true,"verified":true}]`))
	})

	email, err := c.PrimaryEmail(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "me@octo.dev", email)
}

func TestErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/user" {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	})

	_, err := c.CurrentUser(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Repos(context.Background(), "octo", 5)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "bad credentials", apiErr.Body)
}
