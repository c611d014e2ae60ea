package mailer

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/meridianhq/tenancy/pkg/orgs"
)

// InvitationPayload is the JSON body posted for each invitation
type InvitationPayload struct {
	OrganizationID   int64      `json:"organization_id"`
	OrganizationName string     `json:"organization_name"`
	Email            string     `json:"email"`
	Role             string     `json:"role"`
	Token            string     `json:"token"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	IssuedAt         time.Time  `json:"issued_at"`
}

// WebhookSender posts each invitation to a configured endpoint as signed
// JSON. The receiving application owns templating and actual email dispatch.
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookSender creates a webhook-backed sender. The secret, when
// non-empty, signs each payload with HMAC-SHA256 in the
// X-Tenancy-Signature header.
func NewWebhookSender(url, secret string, client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookSender{url: url, secret: secret, client: client}
}

// SendInvitation posts the invitation payload to the endpoint
func (s *WebhookSender) SendInvitation(ctx context.Context, invitation *orgs.Invitation, org *orgs.Organization) error {
	payload, err := json.Marshal(&InvitationPayload{
		OrganizationID:   org.ID,
		OrganizationName: org.Name,
		Email:            invitation.Email,
		Role:             string(invitation.Role),
		Token:            invitation.Token,
		ExpiresAt:        invitation.ExpiresAt,
		IssuedAt:         time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal invitation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenancy-Event", "invitation.issued")
	req.Header.Set("X-Tenancy-Delivery", time.Now().Format(time.RFC3339))
	if s.secret != "" {
		req.Header.Set("X-Tenancy-Signature", generateSignature(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send invitation webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("invitation webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// VerifySignature verifies a payload signature, for use by receivers
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// generateSignature generates HMAC-SHA256 signature
func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
