package mailer

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/meridianhq/tenancy/pkg/orgs"
)

// LogSender records invitations to a structured log instead of delivering
// them anywhere. The development default.
type LogSender struct {
	log *logrus.Logger
}

// NewLogSender creates a log-backed sender. A nil logger uses the logrus
// standard logger configuration.
func NewLogSender(log *logrus.Logger) *LogSender {
	if log == nil {
		log = logrus.New()
	}
	return &LogSender{log: log}
}

// SendInvitation logs the invitation. The token is logged in full; do not
// use LogSender where logs are accessible to users outside the organization.
func (s *LogSender) SendInvitation(_ context.Context, invitation *orgs.Invitation, org *orgs.Organization) error {
	s.log.WithFields(logrus.Fields{
		"organization_id":   org.ID,
		"organization_name": org.Name,
		"email":             invitation.Email,
		"role":              invitation.Role,
		"token":             invitation.Token,
		"expires_at":        invitation.ExpiresAt,
	}).Info("invitation issued")
	return nil
}
