package telegram

import "time"

// timeFromUnix converts a Telegram update's Unix-seconds Date field to
// a time.Time.
func timeFromUnix(unixSeconds int) time.Time {
	return time.Unix(int64(unixSeconds), 0)
}
