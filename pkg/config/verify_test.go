package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyAgainstEmbeddedSchema(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: func() *Config {
				cfg := &Config{
					Mirrors: []string{"https://nitter.net"},
					Destinations: []DestinationConfig{
						{Name: "team", Webhook: "https://discord.com/api/webhooks/1/abc", Accounts: []string{"alice"}},
					},
				}
				cfg.setDefaults()
				return cfg
			}(),
		},
		{
			name:    "missing mirrors",
			config:  &Config{},
			wantErr: true,
			errMsg:  "mirrors are required",
		},
		{
			name: "destination without webhook",
			config: &Config{
				Mirrors:      []string{"https://nitter.net"},
				Destinations: []DestinationConfig{{Name: "team"}},
			},
			wantErr: true,
			errMsg:  "name and webhook are required",
		},
		{
			name: "server enabled without listen",
			config: func() *Config {
				cfg := &Config{Mirrors: []string{"https://nitter.net"}}
				cfg.Server.Enabled = true
				return cfg
			}(),
			wantErr: true,
			errMsg:  "server.listen is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyAgainstEmbeddedSchema(tt.config)
			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestGenerateSchema(t *testing.T) {
	schema, err := GenerateSchema()
	require.NoError(t, err)
	require.NotNil(t, schema)

	data, err := schema.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), "mirrors")
	assert.Contains(t, string(data), "destinations")
}
