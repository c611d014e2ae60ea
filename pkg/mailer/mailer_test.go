package mailer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/tenancy/pkg/orgs"
	"github.com/meridianhq/tenancy/pkg/roles"
)

func testInvitation() (*orgs.Invitation, *orgs.Organization) {
	expiry := time.Now().Add(24 * time.Hour)
	inv := &orgs.Invitation{
		ID:             7,
		OrganizationID: 1,
		Email:          "invited@example.com",
		Token:          "tok-123",
		Role:           roles.RoleMember,
		ExpiresAt:      &expiry,
	}
	org := &orgs.Organization{ID: 1, Name: "Acme"}
	return inv, org
}

func TestLogSender(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sender := NewLogSender(logger)

	inv, org := testInvitation()
	err := sender.SendInvitation(context.Background(), inv, org)
	require.NoError(t, err)

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "invitation issued", entry.Message)
	assert.Equal(t, "invited@example.com", entry.Data["email"])
	assert.Equal(t, int64(1), entry.Data["organization_id"])
}

func TestWebhookSender(t *testing.T) {
	t.Run("posts signed payload", func(t *testing.T) {
		var (
			gotBody      []byte
			gotSignature string
			gotEvent     string
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			gotBody = body
			gotSignature = r.Header.Get("X-Tenancy-Signature")
			gotEvent = r.Header.Get("X-Tenancy-Event")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		sender := NewWebhookSender(server.URL, "s3cret", nil)
		inv, org := testInvitation()
		err := sender.SendInvitation(context.Background(), inv, org)
		require.NoError(t, err)

		assert.Equal(t, "invitation.issued", gotEvent)
		assert.True(t, VerifySignature(gotBody, gotSignature, "s3cret"))

		var payload InvitationPayload
		require.NoError(t, json.Unmarshal(gotBody, &payload))
		assert.Equal(t, "invited@example.com", payload.Email)
		assert.Equal(t, "tok-123", payload.Token)
		assert.Equal(t, "Acme", payload.OrganizationName)
	})

	t.Run("no signature without a secret", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("X-Tenancy-Signature"))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		sender := NewWebhookSender(server.URL, "", nil)
		inv, org := testInvitation()
		require.NoError(t, sender.SendInvitation(context.Background(), inv, org))
	})

	t.Run("non-2xx response is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		sender := NewWebhookSender(server.URL, "", nil)
		inv, org := testInvitation()
		err := sender.SendInvitation(context.Background(), inv, org)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-2xx")
	})
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"email":"x@example.com"}`)
	signature := generateSignature(payload, "secret")

	assert.True(t, VerifySignature(payload, signature, "secret"))
	assert.False(t, VerifySignature(payload, signature, "wrong"))
	assert.False(t, VerifySignature([]byte("tampered"), signature, "secret"))
}
