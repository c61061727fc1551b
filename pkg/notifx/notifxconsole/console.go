// Package notifxconsole is the development email provider: nothing leaves
// the process, every message lands in the log. Local stacks and tests use it
// in place of SES so invite links stay readable in the terminal.
package notifxconsole

import (
	"context"
	"strings"

	"github.com/coagline/coagline/pkg/logx"
	"github.com/coagline/coagline/pkg/notifx"
)

type ConsoleProvider struct{}

func NewConsoleProvider() *ConsoleProvider {
	return &ConsoleProvider{}
}

// SendEmail logs the message instead of delivering it. Bodies go to the
// debug level so the info line stays one screenful.
func (p *ConsoleProvider) SendEmail(_ context.Context, msg notifx.EmailMessage, _ ...notifx.Option) error {
	logx.WithFields(logx.Fields{
		"to":      strings.Join(msg.To, ", "),
		"from":    msg.From,
		"subject": msg.Subject,
	}).Info("email captured by console provider")

	if msg.TextBody != "" {
		logx.Debugf("console email text body:\n%s", msg.TextBody)
	}
	if msg.HTMLBody != "" {
		logx.Debugf("console email html body:\n%s", msg.HTMLBody)
	}
	return nil
}
