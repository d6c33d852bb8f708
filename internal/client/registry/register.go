package registry

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"

	"github.com/go-resty/resty/v2"

	"github.com/atinyakov/PLMSync/internal/engine"
)

var _ engine.Registry = (*Client)(nil)

// Credentials is the certificate pair issued on registration.
type Credentials struct {
	Cert string `json:"cert"`
	Key  string `json:"key"`
}

// Register asks the server at baseURL to issue a certificate for login.
// Only the server is authenticated, against the CA in caFile.
func Register(ctx context.Context, baseURL, login, caFile string) (*Credentials, error) {
	pool, err := LoadCAPool(caFile)
	if err != nil {
		return nil, err
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTLSClientConfig(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12})
	return register(ctx, c, login)
}

func register(ctx context.Context, c *resty.Client, login string) (*Credentials, error) {
	var creds Credentials
	resp, err := c.R().
		SetContext(ctx).
		SetBody(map[string]string{"login": login}).
		SetResult(&creds).
		SetError(&apiError{}).
		Post(pathRegister)
	if err := check("register", resp, err); err != nil {
		return nil, err
	}
	if creds.Cert == "" || creds.Key == "" {
		return nil, fmt.Errorf("register: server returned no certificate")
	}
	return &creds, nil
}

// Save writes the certificate and key with owner-only permissions.
func (c *Credentials) Save(certFile, keyFile string) error {
	if err := os.WriteFile(certFile, []byte(c.Cert), 0o600); err != nil {
		return fmt.Errorf("failed to save %s: %w", certFile, err)
	}
	if err := os.WriteFile(keyFile, []byte(c.Key), 0o600); err != nil {
		return fmt.Errorf("failed to save %s: %w", keyFile, err)
	}
	return nil
}
