package monetai

import (
	"time"

	"go.uber.org/zap"
)

type Option func(*SDK)

func WithLogger(logger *zap.Logger) Option {
	return func(s *SDK) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now for event timestamps and discount windows.
func WithClock(now func() time.Time) Option {
	return func(s *SDK) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPlatform sets the platform reported to the backend. Defaults to "ios".
func WithPlatform(platform string) Option {
	return func(s *SDK) {
		if platform != "" {
			s.platform = platform
		}
	}
}

// WithBilling connects the store's transaction observer and receipt source.
// Either may be nil. Receipts are only uploaded when bundleID is set.
func WithBilling(bundleID string, observer TransactionObserver, receipts ReceiptSource) Option {
	return func(s *SDK) {
		s.bundleID = bundleID
		s.observer = observer
		s.receipts = receipts
	}
}
