package simulator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentials authenticates the HTTP sender against a gateway that
// fronts the API with the OAuth2 client credentials flow.
type ClientCredentials struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes"`
}

// Validate checks that the token endpoint and client id are set.
func (c ClientCredentials) Validate() error {
	if c.TokenURL == "" || c.ClientID == "" {
		return fmt.Errorf("client credentials require token_url and client_id")
	}
	return nil
}

// WithClientCredentials makes every request carry a bearer token. Tokens are
// fetched with ctx and refreshed when they expire.
func (h *HTTPSender) WithClientCredentials(ctx context.Context, cc ClientCredentials) (*HTTPSender, error) {
	if err := cc.Validate(); err != nil {
		return nil, err
	}
	conf := clientcredentials.Config{
		ClientID:     cc.ClientID,
		ClientSecret: cc.ClientSecret,
		TokenURL:     cc.TokenURL,
		Scopes:       cc.Scopes,
	}
	timeout := 10 * time.Second
	if h.Client != nil && h.Client.Timeout > 0 {
		timeout = h.Client.Timeout
	}
	h.Client = conf.Client(ctx)
	h.Client.Timeout = timeout
	return h, nil
}
