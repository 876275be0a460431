package core

import (
	"context"
	"net/mail"
)

type NotificationKind string

const (
	NotifyPurchaseConfirmation NotificationKind = "purchase_confirmation"
	NotifyWelcome              NotificationKind = "welcome"
	NotifyKitShipped           NotificationKind = "kit_shipped"
	NotifyCertificate          NotificationKind = "certificate"
)

// Notification is a message to one recipient. Data feeds the message template.
type Notification struct {
	Kind        NotificationKind
	Recipient   mail.Address
	Data        map[string]string
	Attachments []File
}

// File is sent along with a notification.
type File struct {
	Name        string
	ContentType string // sniffed when empty
	Content     []byte
}

// Outcome records whether a notification was sent. It is only ever logged or reported,
// never turned into a caller error.
type Outcome struct {
	Kind      NotificationKind `json:"kind"`
	Recipient string           `json:"recipient"`
	Sent      bool             `json:"sent"`
	Err       error            `json:"-"`
}

// Notifier sends notifications on a best effort basis.
type Notifier interface {
	Notify(ctx context.Context, n Notification) Outcome
}
