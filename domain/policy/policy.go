// Package policy is the disconnect policy table (C8): a pure lookup from
// a WhatsApp stream-error status code to the reconnection/cleanup
// behavior the connection event handler applies.
package policy

import (
	"strings"
	"time"
)

// Status codes as surfaced on a connection.update close event. Named
// the way the source protocol names its stream error reasons.
const (
	CodeLoggedOut           = 401
	CodeForbidden           = 403
	CodeMethodNotAllowed    = 405
	CodeTimedOut            = 408
	CodeConflict            = 409
	CodeConnectionClosed    = 428
	CodeTooManyRequests     = 429
	CodeConnectionReplaced  = 440
	CodeBadSession          = 500 // shares the wire code with CodeInternalServerError
	CodeInternalServerError = 500
	CodeUnavailable         = 503
	CodeRestartRequired     = 515
	CodeStreamErrorUnknown  = 516
)

// Entry is one row of the disconnect policy table.
type Entry struct {
	Code                  int
	Name                  string
	ShouldReconnect       bool
	IsPermanent           bool
	RequiresAuthClear     bool
	RequiresCleanup       bool
	RequiresNotification  bool
	ClearVoluntaryFlag    bool
	Supports515Flow       bool
	ReconnectDelay        time.Duration
	UseExponentialBackoff bool
	MaxDelay              time.Duration
	MaxAttempts           int
	Message               string
	UserAction            string
}

// unknownDefault is returned for any code absent from the table: "pure
// data" per spec.md §4.8 — reconnectable, auth-clear, 10s delay, 2 max
// attempts.
var unknownDefault = Entry{
	Code:              0,
	Name:              "UNKNOWN",
	ShouldReconnect:   true,
	RequiresAuthClear: true,
	ReconnectDelay:    10 * time.Second,
	MaxAttempts:       2,
	Message:           "Unknown disconnect reason",
	UserAction:        "We are attempting to restore your session automatically.",
}

// table is keyed by code; the 500 row is resolved separately by
// GetDisconnectConfig's reason disambiguation (see DESIGN.md).
var table = map[int]Entry{
	CodeLoggedOut: {
		Code: CodeLoggedOut, Name: "LOGGED_OUT",
		ShouldReconnect: false, IsPermanent: true,
		RequiresCleanup: true, RequiresNotification: true,
		Message:    "Your session was logged out from your phone.",
		UserAction: "Use /connect to pair again.",
	},
	CodeForbidden: {
		Code: CodeForbidden, Name: "FORBIDDEN",
		ShouldReconnect: false, IsPermanent: true,
		RequiresCleanup: true, RequiresNotification: true,
		Message:    "Your account was banned by WhatsApp.",
		UserAction: "This account can no longer be used with the bot.",
	},
	CodeMethodNotAllowed: {
		Code: CodeMethodNotAllowed, Name: "METHOD_NOT_ALLOWED",
		// Skipped entirely per spec.md §4.2: no state change, no
		// reconnect, no cleanup.
	},
	CodeTimedOut: {
		// Open Question pinned: spec.md §4.2's narrative text treats
		// 408 as permanent ("TIMED_OUT(408): same cleanup + notify"),
		// so this table row matches the narrative over the table
		// footnote that lists it as reconnectable in some variants.
		Code: CodeTimedOut, Name: "TIMED_OUT",
		ShouldReconnect: false, IsPermanent: true,
		RequiresCleanup: true, RequiresNotification: true,
		Message:    "Connection timed out.",
		UserAction: "Use /connect to pair again.",
	},
	CodeConflict: {
		Code: CodeConflict, Name: "CONFLICT",
		ShouldReconnect: true,
		ReconnectDelay:  5 * time.Second,
		MaxAttempts:     5,
		Message:         "Another session replaced this connection.",
	},
	CodeConnectionClosed: {
		Code: CodeConnectionClosed, Name: "CONNECTION_CLOSED",
		ShouldReconnect: true, RequiresAuthClear: true,
		ReconnectDelay: 6 * time.Second, MaxDelay: 15 * time.Second,
		UseExponentialBackoff: true, MaxAttempts: 4,
		Message: "Connection closed unexpectedly.",
	},
	CodeTooManyRequests: {
		Code: CodeTooManyRequests, Name: "TOO_MANY_REQUESTS",
		ShouldReconnect: true,
		ReconnectDelay:  5 * time.Second, MaxDelay: 5 * time.Minute,
		UseExponentialBackoff: true, MaxAttempts: 10,
		Message: "Rate limited by WhatsApp servers.",
	},
	CodeConnectionReplaced: {
		Code: CodeConnectionReplaced, Name: "CONNECTION_REPLACED",
		ShouldReconnect: true, RequiresAuthClear: true,
		ReconnectDelay: 6 * time.Second, MaxDelay: 10 * time.Second,
		MaxAttempts: 3,
		Message:     "This session was replaced by another device.",
	},
	// 500 is intentionally absent here: GetDisconnectConfig resolves it
	// by reason (bad-session vs internal-server-error).
	CodeUnavailable: {
		Code: CodeUnavailable, Name: "UNAVAILABLE",
		ShouldReconnect: true,
		ReconnectDelay:  10 * time.Second, MaxDelay: 30 * time.Second,
		UseExponentialBackoff: true, MaxAttempts: 7,
		Message: "WhatsApp servers are temporarily unavailable.",
	},
	CodeRestartRequired: {
		Code: CodeRestartRequired, Name: "RESTART_REQUIRED",
		ShouldReconnect: true, Supports515Flow: true,
		ReconnectDelay: 2 * time.Second, MaxDelay: 3 * time.Second,
		MaxAttempts: 10,
		Message:     "Post-pairing restart required.",
	},
	CodeStreamErrorUnknown: {
		Code: CodeStreamErrorUnknown, Name: "STREAM_ERROR_UNKNOWN",
		ShouldReconnect: true, Supports515Flow: true,
		ReconnectDelay: 2 * time.Second, MaxDelay: 3 * time.Second,
		MaxAttempts: 10,
		Message:     "Unknown stream error during restart.",
	},
}

var (
	badSessionEntry = Entry{
		Code: CodeBadSession, Name: "BAD_SESSION",
		ShouldReconnect: true, RequiresAuthClear: true,
		ReconnectDelay: 2 * time.Second, MaxAttempts: 2,
		Message: "Corrupted session, clearing keys and reconnecting.",
	}
	internalServerErrorEntry = Entry{
		Code: CodeInternalServerError, Name: "INTERNAL_SERVER_ERROR",
		ShouldReconnect: true, RequiresAuthClear: true,
		ReconnectDelay: 10 * time.Second, MaxAttempts: 5,
		Message: "WhatsApp server reported an internal error.",
	}
)

// badSessionHints are substrings of a disconnect reason/message that
// select the BAD_SESSION row over INTERNAL_SERVER_ERROR when both share
// wire code 500 (see DESIGN.md's Open Question resolution).
var badSessionHints = []string{"bad mac", "bad-session", "bad session", "mac error"}

// GetDisconnectConfig looks up the policy row for a code. reason is the
// disconnect error's message text, used only to disambiguate code 500;
// it may be empty for every other code.
func GetDisconnectConfig(code int, reason string) Entry {
	if code == CodeBadSession {
		lower := strings.ToLower(reason)
		for _, hint := range badSessionHints {
			if strings.Contains(lower, hint) {
				return badSessionEntry
			}
		}
		return internalServerErrorEntry
	}
	if e, ok := table[code]; ok {
		return e
	}
	d := unknownDefault
	d.Code = code
	return d
}

func ShouldReconnect(code int, reason string) bool {
	return GetDisconnectConfig(code, reason).ShouldReconnect
}

func IsPermanentDisconnect(code int, reason string) bool {
	return GetDisconnectConfig(code, reason).IsPermanent
}

func RequiresAuthClear(code int, reason string) bool {
	return GetDisconnectConfig(code, reason).RequiresAuthClear
}

func RequiresCleanup(code int, reason string) bool {
	return GetDisconnectConfig(code, reason).RequiresCleanup
}

func RequiresNotification(code int, reason string) bool {
	return GetDisconnectConfig(code, reason).RequiresNotification
}

func ShouldClearVoluntaryFlag(code int, reason string) bool {
	return GetDisconnectConfig(code, reason).ClearVoluntaryFlag
}

func Supports515Flow(code int, reason string) bool {
	return GetDisconnectConfig(code, reason).Supports515Flow
}

// GetReconnectDelay applies exponential backoff when the row opts in,
// capped at MaxDelay.
func GetReconnectDelay(code int, reason string, attempt int) time.Duration {
	e := GetDisconnectConfig(code, reason)
	if !e.UseExponentialBackoff {
		return e.ReconnectDelay
	}
	delay := e.ReconnectDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if e.MaxDelay > 0 && delay >= e.MaxDelay {
			return e.MaxDelay
		}
	}
	if e.MaxDelay > 0 && delay > e.MaxDelay {
		return e.MaxDelay
	}
	return delay
}

func GetMaxAttempts(code int, reason string) int {
	return GetDisconnectConfig(code, reason).MaxAttempts
}

func GetUserAction(code int, reason string) string {
	return GetDisconnectConfig(code, reason).UserAction
}

// Dump returns every known row plus the unknown-code default, for
// operational logging at startup.
func Dump() []Entry {
	out := make([]Entry, 0, len(table)+3)
	for _, e := range table {
		out = append(out, e)
	}
	out = append(out, badSessionEntry, internalServerErrorEntry, unknownDefault)
	return out
}
