// Package mailer provides the outbound mail transports used by the delivery
// worker.
package mailer

import "context"

// Mailer sends one rendered email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}
