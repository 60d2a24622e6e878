package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/models"
)

func TestTokenRequest_Values(t *testing.T) {
	t.Parallel()

	t.Run("minimal_request_omits_empty_fields", func(t *testing.T) {
		t.Parallel()

		req := models.TokenRequest{GrantType: models.GrantTypeClientCredentials}
		form := req.Values()

		assert.Equal(t, "client_credentials", form.Get("grant_type"))
		assert.Len(t, form, 1, "empty fields must not appear in the form")
	})

	t.Run("authorization_code_exchange", func(t *testing.T) {
		t.Parallel()

		req := models.TokenRequest{
			GrantType:    models.GrantTypeAuthorizationCode,
			Code:         "abc123",
			RedirectURI:  "https://portal.example.com/callback",
			ClientID:     "patient-portal",
			CodeVerifier: "v3rifier",
		}
		form := req.Values()

		assert.Equal(t, "authorization_code", form.Get("grant_type"))
		assert.Equal(t, "abc123", form.Get("code"))
		assert.Equal(t, "https://portal.example.com/callback", form.Get("redirect_uri"))
		assert.Equal(t, "patient-portal", form.Get("client_id"))
		assert.Equal(t, "v3rifier", form.Get("code_verifier"))
		assert.Empty(t, form.Get("client_secret"))
	})

	t.Run("jwt_bearer_assertion", func(t *testing.T) {
		t.Parallel()

		req := models.TokenRequest{
			GrantType:           models.GrantTypeClientCredentials,
			ClientAssertionType: models.ClientAssertionType,
			ClientAssertion:     "signed.jwt.here",
			Scope:               "system/*.read",
		}
		form := req.Values()

		assert.Equal(t, models.ClientAssertionType, form.Get("client_assertion_type"))
		assert.Equal(t, "signed.jwt.here", form.Get("client_assertion"))
		assert.Equal(t, "system/*.read", form.Get("scope"))
	})
}

func TestTokenResponse_Scopes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		scope    string
		expected []string
	}{
		{
			name:     "multiple_scopes",
			scope:    "openid fhirUser patient/*.read",
			expected: []string{"openid", "fhirUser", "patient/*.read"},
		},
		{
			name:     "single_scope",
			scope:    "system/*.read",
			expected: []string{"system/*.read"},
		},
		{
			name:     "empty_scope",
			scope:    "",
			expected: nil,
		},
		{
			name:     "extra_whitespace",
			scope:    "  openid   launch  ",
			expected: []string{"openid", "launch"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp := &models.TokenResponse{Scope: tt.scope}
			assert.Equal(t, tt.expected, resp.Scopes())
		})
	}
}

func TestIntrospectionResponse_HasScope(t *testing.T) {
	t.Parallel()

	resp := &models.IntrospectionResponse{Scope: "openid gateway/admin profile"}

	assert.True(t, resp.HasScope("gateway/admin"))
	assert.True(t, resp.HasScope("openid"))
	assert.False(t, resp.HasScope("gateway"))
	assert.False(t, resp.HasScope("admin"))

	empty := &models.IntrospectionResponse{}
	assert.False(t, empty.HasScope("openid"))
}

func TestIntrospectionResponse_Expired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		expiresAt int64
		expected  bool
	}{
		{
			name:      "future_expiry",
			expiresAt: time.Now().Add(time.Hour).Unix(),
			expected:  false,
		},
		{
			name:      "past_expiry",
			expiresAt: time.Now().Add(-time.Hour).Unix(),
			expected:  true,
		},
		{
			name:      "no_exp_claim",
			expiresAt: 0,
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp := &models.IntrospectionResponse{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.expected, resp.Expired())
		})
	}
}

func TestNewMonitorEvent(t *testing.T) {
	t.Parallel()

	event := models.NewMonitorEvent(models.TopicFHIR, "fhir_request")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, models.TopicFHIR, event.Topic)
	assert.Equal(t, "fhir_request", event.Type)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, time.Second)

	other := models.NewMonitorEvent(models.TopicFHIR, "fhir_request")
	assert.NotEqual(t, event.ID, other.ID)
}
