package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/supportdesk-payments/internal/auth"
)

func TestTokenCmd(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	tests := []struct {
		name    string
		args    []string
		wantErr string
		check   func(t *testing.T, c *auth.Claims)
	}{
		{
			name: "admin token",
			args: []string{"--tenant", tenantID.String(), "--user", userID.String(), "--role", "admin"},
			check: func(t *testing.T, c *auth.Claims) {
				assert.Equal(t, userID, c.UserID)
				assert.Equal(t, tenantID, c.TenantID)
				assert.True(t, c.IsAdmin())
			},
		},
		{
			name: "customer default with random user",
			args: []string{"--tenant", tenantID.String()},
			check: func(t *testing.T, c *auth.Claims) {
				assert.NotEqual(t, uuid.Nil, c.UserID)
				assert.False(t, c.IsAdmin())
			},
		},
		{name: "bad role", args: []string{"--tenant", tenantID.String(), "--role", "root"}, wantErr: "role must be"},
		{name: "bad tenant", args: []string{"--tenant", "acme"}, wantErr: "--tenant"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd := tokenCmd()
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetArgs(append(tc.args, "--secret", "s3cret"))

			err := cmd.Execute()
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)

			claims, err := auth.ValidateToken(strings.TrimSpace(out.String()), "s3cret")
			require.NoError(t, err)
			tc.check(t, claims)
		})
	}
}

func TestGCIdempotencyCmd_RejectsEmptyBatch(t *testing.T) {
	for _, batch := range []string{"0", "-5"} {
		t.Run(batch, func(t *testing.T) {
			cmd := gcIdempotencyCmd()
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs([]string{"--batch", batch})

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "--batch must be at least 1")
		})
	}
}
