package altobase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{APIKey: "k"})
	assert.Error(t, err)
	_, err = NewClient(Config{URL: "https://project.example.test"})
	assert.Error(t, err)
}

func TestNewClientWiresSubsystems(t *testing.T) {
	c, err := NewClient(Config{URL: "https://project.example.test", APIKey: "k"})
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Auth)
	assert.NotNil(t, c.Realtime)
	assert.NotNil(t, c.Postgrest)
	assert.NotNil(t, c.Storage)
	assert.NotNil(t, c.Functions)
}

func TestRealtimeURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://project.example.test", "wss://project.example.test/realtime/v1/websocket"},
		{"http://localhost:54321", "ws://localhost:54321/realtime/v1/websocket"},
		{"wss://project.example.test", "wss://project.example.test/realtime/v1/websocket"},
	}
	for _, tt := range tests {
		got, err := realtimeURL(tt.base)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := realtimeURL("ftp://nope")
	assert.Error(t, err)
}
