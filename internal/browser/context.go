package browser

import (
	"context"
)

// CombineContext derives a context from primary that is canceled when either
// primary or secondary ends. chromedp operations need this shape: primary
// carries the CDP target values, secondary carries the caller's deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}
