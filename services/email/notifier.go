package emailsvc

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
)

var subjects = map[core.NotificationKind]string{
	core.NotifyPurchaseConfirmation: "Thank you for your purchase",
	core.NotifyWelcome:              "Welcome aboard",
	core.NotifyKitShipped:           "Your kit has shipped",
	core.NotifyCertificate:          "Your certificate of completion",
}

var ErrUnknownNotification = errors.New("unknown notification kind")

// Notifier turns notifications into templated emails named after their kind.
type Notifier struct {
	mailer  core.EmailService
	logger  core.Logger
	timeout time.Duration
}

var _ core.Notifier = (*Notifier)(nil)

func NewNotifier(mailer core.EmailService, logger core.Logger) *Notifier {
	return &Notifier{mailer: mailer, logger: logger, timeout: 10 * time.Second}
}

func (n *Notifier) Notify(ctx context.Context, notif core.Notification) core.Outcome {
	out := core.Outcome{Kind: notif.Kind, Recipient: notif.Recipient.Address}

	subject, ok := subjects[notif.Kind]
	if !ok {
		out.Err = errors.Wrap(ErrUnknownNotification, string(notif.Kind))
	} else {
		out.Err = n.send(ctx, subject, notif)
	}

	if out.Err != nil {
		n.logger.Error(fmt.Sprintf("sending %s notification: %v", notif.Kind, out.Err), out.Err,
			map[string]interface{}{"email": notif.Recipient.Address, "kind": string(notif.Kind)})
		return out
	}
	out.Sent = true
	return out
}

func (n *Notifier) send(ctx context.Context, subject string, notif core.Notification) error {
	msg := &core.EmailMessage{
		To:           []mail.Address{notif.Recipient},
		Subject:      subject,
		TemplateName: string(notif.Kind),
		TemplateData: notif.Data,
	}
	for _, f := range notif.Attachments {
		var ct []string
		if f.ContentType != "" {
			ct = append(ct, f.ContentType)
		}
		if err := msg.Attach(bytes.NewReader(f.Content), f.Name, ct...); err != nil {
			return errors.Wrapf(err, "attaching %s", f.Name)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return n.mailer.Send(ctx, msg)
}
