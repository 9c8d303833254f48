package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultTokenURL = "https://aip.baidubce.com/oauth/2.0/token"

	maxTokenResponseBytes = 64 << 10
)

type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// NewOAuthFetcher exchanges client credentials for a bearer token with a
// client_credentials grant.
func NewOAuthFetcher(httpClient *http.Client, cfg OAuthConfig) FetchFunc {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	return func(ctx context.Context) (Grant, error) {
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return Grant{}, &Error{Message: "client id and client secret are required"}
		}

		query := url.Values{}
		query.Set("grant_type", "client_credentials")
		query.Set("client_id", cfg.ClientID)
		query.Set("client_secret", cfg.ClientSecret)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL+"?"+query.Encode(), nil)
		if err != nil {
			return Grant{}, &Error{Message: "build token request", Err: err}
		}
		req.Header.Set("Accept", "application/json")

		resp, err := httpClient.Do(req)
		if err != nil {
			return Grant{}, &Error{Message: "token endpoint unreachable", Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
		if err != nil {
			return Grant{}, &Error{Status: resp.StatusCode, Message: "read token response", Err: err}
		}

		var tr tokenResponse
		if err := json.Unmarshal(body, &tr); err != nil {
			return Grant{}, &Error{
				Status:  resp.StatusCode,
				Message: fmt.Sprintf("malformed token response: %s", truncate(body, 256)),
				Err:     err,
			}
		}
		if tr.Error != "" {
			return Grant{}, &Error{Status: resp.StatusCode, Code: tr.Error, Message: tr.ErrorDescription}
		}
		if resp.StatusCode != http.StatusOK {
			return Grant{}, &Error{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
			return Grant{}, &Error{Status: resp.StatusCode, Message: "token response without access_token or expires_in"}
		}

		return Grant{
			AccessToken: tr.AccessToken,
			ExpiresIn:   time.Duration(tr.ExpiresIn) * time.Second,
		}, nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
