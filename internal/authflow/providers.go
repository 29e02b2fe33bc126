package authflow

import (
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

// Provider names understood by the authorization flow.
const (
	ProviderGoogle    = "gmail"
	ProviderMicrosoft = "outlook"
)

// DefaultCallbackPort is the fixed local port the redirect listener binds to.
// It must match the redirect URI registered with the provider.
const DefaultCallbackPort = 8889

const callbackPath = "/oauth2callback"

var googleScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.labels",
}

var microsoftScopes = []string{
	"https://graph.microsoft.com/Mail.Read",
	"https://graph.microsoft.com/Mail.ReadWrite",
	"https://graph.microsoft.com/Mail.Send",
	"offline_access",
}

// newOAuthConfig builds the oauth2.Config for a provider. The redirect URI
// always points at the local callback listener.
func newOAuthConfig(provider, clientID, clientSecret string, port int) (*oauth2.Config, error) {
	redirect := fmt.Sprintf("http://localhost:%d%s", port, callbackPath)

	switch provider {
	case ProviderGoogle:
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  redirect,
			Scopes:       googleScopes,
		}, nil
	case ProviderMicrosoft:
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     microsoft.AzureADEndpoint("common"),
			RedirectURL:  redirect,
			Scopes:       microsoftScopes,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported OAuth provider: %s", provider)
	}
}
