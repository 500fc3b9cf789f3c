// Package broadcast delivers encoded summaries to the outside world: a BLE
// advertisement, an MQTT topic or the log.
package broadcast

import "context"

// Publisher sends one payload. Delivery is best effort; a failed publish is
// never retried by the caller.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}
