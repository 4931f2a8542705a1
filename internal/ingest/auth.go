package ingest

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
)

// applyAuth mutates headers and query params in place according to cfg's
// auth flow. ctx is the already-resolved placeholder context, used for
// apiKeyHeader/apiKeyQuery value templates.
func applyAuth(client *http.Client, cfg AuthConfig, ctx map[string]string, headers, params map[string]string) {
	switch cfg.Type {
	case "", AuthNone:
		return
	case AuthBearer:
		token := resolveSecretRefs(cfg.Token)
		if token != "" {
			headers["Authorization"] = "Bearer " + token
		}
	case AuthAPIKeyHeader:
		key := strings.TrimSpace(cfg.Header)
		if key != "" {
			headers[key] = tokenReplace(cfg.ValueTemplate, ctx)
		}
	case AuthAPIKeyQuery:
		key := strings.TrimSpace(cfg.Param)
		if key != "" {
			params[key] = tokenReplace(cfg.ValueTemplate, ctx)
		}
	case AuthBasic:
		user := resolveSecretRefs(cfg.Username)
		pass := resolveSecretRefs(cfg.Password)
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
	case AuthOAuth2CC:
		if token := fetchClientCredentialsToken(client, cfg); token != "" {
			headers["Authorization"] = "Bearer " + token
		}
	}
}

// fetchClientCredentialsToken performs the OAuth2 client-credentials
// token exchange once per sync invocation; the resulting token is used
// only for the lifetime of the request that triggered it rather than
// cached across syncs. A failure here is non-fatal: the request proceeds
// without an Authorization header.
func fetchClientCredentialsToken(client *http.Client, cfg AuthConfig) string {
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	clientID := resolveSecretRefs(cfg.ClientID)
	clientSecret := resolveSecretRefs(cfg.ClientSecret)
	if tokenURL == "" || clientID == "" || clientSecret == "" {
		return ""
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if cfg.Scope != "" {
		form.Set("scope", cfg.Scope)
	}

	req, err := http.NewRequest(http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		log.WithError(err).Warn("ingest: build oauth2 token request")
		return ""
	}
	req.SetBasicAuth(clientID, clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		log.WithError(err).Warn("ingest: oauth2 token exchange")
		return ""
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.WithError(err).Warn("ingest: decode oauth2 token response")
		return ""
	}
	return body.AccessToken
}
