package session

import (
	"fmt"
	"time"
)

// Countdown is the time left until the match starts, floor-truncated to seconds.
type Countdown struct {
	Hours   int  `json:"hours"`
	Minutes int  `json:"minutes"`
	Seconds int  `json:"seconds"`
	Started bool `json:"started"`
}

// CountdownAt decomposes start-now. It never goes negative: once the start
// time is reached the countdown reports Started.
func CountdownAt(start, now time.Time) Countdown {
	return countdownFor(start.Sub(now))
}

func countdownFor(remaining time.Duration) Countdown {
	if remaining <= 0 {
		return Countdown{Started: true}
	}
	// A sub-second remainder reads 00:00:00 but has not started yet.
	total := int64(remaining / time.Second)
	return Countdown{
		Hours:   int(total / 3600),
		Minutes: int(total % 3600 / 60),
		Seconds: int(total % 60),
	}
}

// Remaining converts the countdown back into a duration.
func (c Countdown) Remaining() time.Duration {
	if c.Started {
		return 0
	}
	return time.Duration(c.Hours)*time.Hour + time.Duration(c.Minutes)*time.Minute + time.Duration(c.Seconds)*time.Second
}

func (c Countdown) String() string {
	if c.Started {
		return "match started"
	}
	return fmt.Sprintf("%02d:%02d:%02d", c.Hours, c.Minutes, c.Seconds)
}
