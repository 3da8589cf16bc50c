package queue

import (
	appErr "github.com/notifyd/notifyd/internal/errors"
	"github.com/notifyd/notifyd/internal/model"
)

// Routing keys and queue names hanging off the topic exchange. Requests fan
// out to one durable queue per delivery channel; delivery outcomes flow back
// on the report queue.
const (
	KeyEmail  = "email"
	KeyPush   = "push"
	KeyReport = "report"

	QueueEmail  = "notifications.email"
	QueuePush   = "notifications.push"
	QueueReport = "notifications.report"
)

// bindings ties each durable queue to its routing key.
var bindings = []struct {
	queue string
	key   string
}{
	{QueueEmail, KeyEmail},
	{QueuePush, KeyPush},
	{QueueReport, KeyReport},
}

// KeyFor maps a delivery channel to its routing key.
func KeyFor(c model.Channel) (string, error) {
	switch c {
	case model.ChannelEmail:
		return KeyEmail, nil
	case model.ChannelPush:
		return KeyPush, nil
	default:
		return "", appErr.NewValidation("no route for channel %q", string(c))
	}
}
