// Package secrets reads credentials from Google Secret Manager.
package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

type Resolver interface {
	// Resolve returns the payload of the named secret's version.
	Resolve(ctx context.Context, name string) (string, error)
}

type SecretManager struct {
	client    *secretmanager.Client
	projectID string
}

func NewSecretManager(ctx context.Context, projectID string, opts ...option.ClientOption) (*SecretManager, error) {
	if projectID == "" {
		return nil, fmt.Errorf("GCP project ID is not set")
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &SecretManager{client: client, projectID: projectID}, nil
}

func (s *SecretManager) Resolve(ctx context.Context, name string) (string, error) {
	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: resourceName(s.projectID, name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret version %s: %w", name, err)
	}
	return strings.TrimSpace(string(result.Payload.Data)), nil
}

func (s *SecretManager) Close() error {
	return s.client.Close()
}

// resourceName expands a short secret name to its latest version in the project.
// Full resource names are used as given.
func resourceName(projectID, name string) string {
	switch {
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/versions/"):
		return name
	case strings.HasPrefix(name, "projects/"):
		return name + "/versions/latest"
	default:
		return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, name)
	}
}
