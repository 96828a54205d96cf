package adapter

import "context"

// Notifier delivers operational alerts (implausible pricing, stuck recoveries)
// to the on-call channel.
type Notifier interface {
	Notify(ctx context.Context, subject, text string) error
}
