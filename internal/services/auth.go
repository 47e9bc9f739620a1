package services

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CloudPlatformScope is the OAuth scope required by every remote job API.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// TokenSource resolves credentials for the remote job clients. When a
// credentials JSON path is configured it is read once; otherwise application
// default credentials are used.
func TokenSource(ctx context.Context, credentialsPath string) (oauth2.TokenSource, error) {
	if credentialsPath != "" {
		data, err := os.ReadFile(credentialsPath)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("parse credentials file: %w", err)
		}
		return creds.TokenSource, nil
	}

	source, err := google.DefaultTokenSource(ctx, CloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("resolve default credentials: %w", err)
	}
	return source, nil
}
