package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

var transientHints = []string{
	"429",
	"too many requests",
	"rate limit",
	"timed out",
	"timeout",
	"temporarily unavailable",
	"connection reset",
	"connection refused",
	"service unavailable",
	"network is unreachable",
	"http error 5",
	"http error 403",
	"remote end closed",
	"read: connection",
}

var permanentHints = []string{
	"video unavailable",
	"private video",
	"video is private",
	"has been removed",
	"been terminated",
	"not available in your country",
	"geo blocked",
	"age restricted",
	"members-only",
	"join this channel",
	"copyright",
	"unsupported url",
	"is not a valid url",
	"incomplete youtube id",
	"http error 404",
	"does not exist",
}

// Classify maps err onto a retry kind. An explicit kind on a *Error wins;
// otherwise network conditions and message hints decide, and anything
// unrecognised is treated as Transient so the attempt budget bounds it.
func Classify(err error) Kind {
	if err == nil {
		return Transient
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return Transient
	}

	text := strings.ToLower(err.Error())
	// permanent hints win when both match
	if hasHint(text, permanentHints) {
		return Permanent
	}
	if hasHint(text, transientHints) {
		return Transient
	}
	return Transient
}

// ClassifyText applies the message hints alone.
func ClassifyText(s string) Kind {
	return Classify(errors.New(s))
}

func hasHint(text string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(text, h) {
			return true
		}
	}
	return false
}
