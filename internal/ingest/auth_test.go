package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyAuthBearer(t *testing.T) {
	headers := map[string]string{}
	applyAuth(&http.Client{}, AuthConfig{Type: AuthBearer, Token: "tok123"}, nil, headers, map[string]string{})
	assert.Equal(t, "Bearer tok123", headers["Authorization"])
}

func TestApplyAuthAPIKeyHeader(t *testing.T) {
	headers := map[string]string{}
	applyAuth(&http.Client{}, AuthConfig{Type: AuthAPIKeyHeader, Header: "X-Api-Key", ValueTemplate: "secretkey"}, map[string]string{}, headers, map[string]string{})
	assert.Equal(t, "secretkey", headers["X-Api-Key"])
}

func TestApplyAuthAPIKeyQuery(t *testing.T) {
	params := map[string]string{}
	applyAuth(&http.Client{}, AuthConfig{Type: AuthAPIKeyQuery, Param: "api_key", ValueTemplate: "qkey"}, map[string]string{}, map[string]string{}, params)
	assert.Equal(t, "qkey", params["api_key"])
}

func TestApplyAuthBasic(t *testing.T) {
	headers := map[string]string{}
	applyAuth(&http.Client{}, AuthConfig{Type: AuthBasic, Username: "u", Password: "p"}, nil, headers, map[string]string{})
	assert.Equal(t, "Basic dTpw", headers["Authorization"])
}

func TestApplyAuthOAuth2ClientCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseForm())
		assert.Equal(t, "client_credentials", req.FormValue("grant_type"))
		user, pass, ok := req.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "cid", user)
		assert.Equal(t, "csecret", pass)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "xyz"})
	}))
	defer srv.Close()

	headers := map[string]string{}
	applyAuth(&http.Client{}, AuthConfig{
		Type:         AuthOAuth2CC,
		TokenURL:     srv.URL,
		ClientID:     "cid",
		ClientSecret: "csecret",
	}, nil, headers, map[string]string{})
	assert.Equal(t, "Bearer xyz", headers["Authorization"])
}

func TestApplyAuthNoneLeavesHeadersEmpty(t *testing.T) {
	headers := map[string]string{}
	applyAuth(&http.Client{}, AuthConfig{Type: AuthNone}, nil, headers, map[string]string{})
	assert.Empty(t, headers)
}
