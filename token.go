package tether

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// TokenProvider supplies the token used for the gateway and REST requests.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a bot token that never changes.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// OAuth2Token takes bearer tokens from an oauth2 token source, refreshing
// them as they expire.
type OAuth2Token struct {
	source oauth2.TokenSource
}

func NewOAuth2Token(source oauth2.TokenSource) *OAuth2Token {
	return &OAuth2Token{
		source: oauth2.ReuseTokenSource(nil, source),
	}
}

func (t *OAuth2Token) Token(context.Context) (string, error) {
	token, err := t.source.Token()
	if err != nil {
		return "", fmt.Errorf("failed to get oauth2 token: %w", err)
	}

	return token.AccessToken, nil
}

// TokenType is sent before the token in the Authorization header.
func (t *OAuth2Token) TokenType() string {
	return "Bearer"
}

// tokenType returns the Authorization scheme for provider.
func tokenType(provider TokenProvider) string {
	if typed, ok := provider.(interface{ TokenType() string }); ok {
		return typed.TokenType()
	}

	return "Bot"
}
