package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"openai-key", "projects/p1/secrets/openai-key/versions/latest"},
		{"projects/p2/secrets/openai-key", "projects/p2/secrets/openai-key/versions/latest"},
		{"projects/p2/secrets/openai-key/versions/3", "projects/p2/secrets/openai-key/versions/3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resourceName("p1", tt.in))
	}
}

func TestNewSecretManagerRequiresProject(t *testing.T) {
	_, err := NewSecretManager(context.Background(), "")
	assert.Error(t, err)
}
