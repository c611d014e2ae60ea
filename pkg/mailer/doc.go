// Package mailer provides invitation delivery implementations.
//
// The core hands every newly issued or refreshed invitation to an
// orgs.Sender off the write path; implementations here cover the common
// cases. LogSender records invitations to a structured log, useful in
// development and as a safe default. WebhookSender posts signed JSON
// payloads to a configured endpoint, letting the host application render
// and send the actual email with its own templates and provider.
package mailer
