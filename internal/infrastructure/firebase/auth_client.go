package firebase

import (
	"context"

	"firebase.google.com/go/v4/auth"
)

// AuthClient is the identity collaborator boundary: every transport
// handshake and HTTP call resolves a bearer token to a participant id here.
type AuthClient struct {
	client *auth.Client
}

func NewAuthClient(client *auth.Client) *AuthClient {
	return &AuthClient{
		client: client,
	}
}

func (f *AuthClient) VerifyToken(ctx context.Context, token string) (string, error) {
	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", err
	}

	return result.UID, nil
}
