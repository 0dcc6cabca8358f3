package lobby

import (
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTickInterval is how often a ready lobby refreshes its countdown.
const DefaultTickInterval = time.Second

type options struct {
	now       func() time.Time
	newTicker TickerFunc
	interval  time.Duration
	inboxSize int
	log       *logrus.Entry
}

func defaultOptions() options {
	return options{
		now:       time.Now,
		newTicker: SystemTicker,
		interval:  DefaultTickInterval,
		inboxSize: 64,
		log:       logrus.NewEntry(logrus.StandardLogger()),
	}
}

// Option configures a Lobby.
type Option func(*options)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTicker replaces the countdown scheduler.
func WithTicker(f TickerFunc) Option {
	return func(o *options) { o.newTicker = f }
}

func WithTickInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}
