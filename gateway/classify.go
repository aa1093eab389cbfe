package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/poiesic/blueprint/core"
)

var statusPattern = regexp.MustCompile(`(?i)status(?: code)?[:= ]+(\d{3})`)

var fatalMarkers = []string{
	"insufficient_quota",
	"quota exceeded",
	"exceeded your current quota",
	"context_length_exceeded",
	"context length",
	"maximum context",
	"too many tokens",
	"invalid_request_error",
	"invalid api key",
	"model not found",
}

var transientMarkers = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"overloaded",
	"temporarily unavailable",
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"timed out",
	"eof",
}

// Classify maps a provider error onto the pipeline's error taxonomy.
// Errors already carrying a core sentinel are returned unchanged. Anything
// the gateway cannot recognize is treated as transient.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, core.ErrTransientProvider),
		errors.Is(err, core.ErrFatalInput),
		errors.Is(err, core.ErrConsistency),
		errors.Is(err, core.ErrCancelled):
		return err
	case errors.Is(err, context.Canceled):
		return cancelled(err)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET):
		return transient(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return transient(err)
	}

	msg := strings.ToLower(err.Error())
	for _, m := range fatalMarkers {
		if strings.Contains(msg, m) {
			return fatal(err)
		}
	}
	if code, ok := statusCode(msg); ok {
		switch {
		case code == 408 || code == 409 || code == 429:
			return transient(err)
		case code >= 400 && code < 500:
			return fatal(err)
		case code >= 500:
			return transient(err)
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return transient(err)
		}
	}
	return transient(err)
}

func statusCode(msg string) (int, bool) {
	m := statusPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

func transient(err error) error {
	return fmt.Errorf("%w: %w", core.ErrTransientProvider, err)
}

func fatal(err error) error {
	return fmt.Errorf("%w: %w", core.ErrFatalInput, err)
}

func cancelled(err error) error {
	if errors.Is(err, core.ErrCancelled) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrCancelled, err)
}
