package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadata(t *testing.T) {
	md := Metadata("https://op.example.org")

	assert.Equal(t, "https://op.example.org", md.Issuer)
	assert.Equal(t, "https://op.example.org/authorization", md.AuthorizationEndpoint)
	assert.Equal(t, "https://op.example.org/token", md.TokenEndpoint)
	assert.Equal(t, "https://op.example.org/connect/register", md.RegistrationEndpoint)
	assert.Contains(t, md.ResponseTypesSupported, "code")
	assert.Contains(t, md.ResponseTypesSupported, "none")
	assert.Contains(t, md.SubjectTypesSupported, "pairwise")
	assert.Contains(t, md.ClaimsSupported, "email")
	assert.True(t, md.RequestParameterSupported)
}

func TestDiscover(t *testing.T) {
	t.Run("answers with the issuer location", func(t *testing.T) {
		resp, err := Discover("acct:user@example.org", SWDIssuer, "https://op.example.org")
		require.NoError(t, err)
		assert.Equal(t, []string{"https://op.example.org"}, resp.Locations)
	})

	t.Run("rejects a foreign rel", func(t *testing.T) {
		_, err := Discover("acct:user@example.org", "http://example.org/other", "https://op.example.org")
		require.Error(t, err)
	})

	t.Run("requires resource and rel", func(t *testing.T) {
		_, err := Discover("", SWDIssuer, "https://op.example.org")
		require.Error(t, err)
		_, err = Discover("acct:user@example.org", "", "https://op.example.org")
		require.Error(t, err)
	})
}
