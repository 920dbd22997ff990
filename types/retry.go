package types

import (
	"bytes"
	"math"
	"time"

	"github.com/goccy/go-json"
	"github.com/juju/errors"
)

// MaxRetryBackoff bounds every computed backoff, maxBackoffMs set or not.
const MaxRetryBackoff = 24 * time.Hour

// RetryPolicy is decoded from a node's retry-policy JSON:
//
//	{"maxAttempts": 3, "backoffMs": 200, "backoffMultiplier": 2, "maxBackoffMs": 5000, "timeoutMs": 1000}
type RetryPolicy struct {
	MaxAttempts       int     `json:"maxAttempts"`
	BackoffMs         int64   `json:"backoffMs"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
	MaxBackoffMs      int64   `json:"maxBackoffMs"`
	TimeoutMs         int64   `json:"timeoutMs"`
}

// ParseRetryPolicy decodes raw; missing or non-positive maxAttempts falls back
// to defaultMaxAttempts (and to 1 below that).
func ParseRetryPolicy(raw json.RawMessage, defaultMaxAttempts int) (RetryPolicy, error) {
	p := RetryPolicy{}
	if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &p); err != nil {
			return RetryPolicy{}, errors.NewNotValid(err, "retry policy")
		}
	}
	if p.BackoffMs < 0 || p.MaxBackoffMs < 0 || p.TimeoutMs < 0 {
		return RetryPolicy{}, errors.NotValidf("negative durations in retry policy")
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	return p, nil
}

// Backoff returns the delay before the attempt following the given number of
// failed attempts (failures >= 1).
func (p RetryPolicy) Backoff(failures int) time.Duration {
	if p.BackoffMs <= 0 {
		return 0
	}
	multiplier := p.BackoffMultiplier
	if !(multiplier >= 1) {
		multiplier = 1
	}
	exp := failures - 1
	if exp < 0 {
		exp = 0
	}
	ms := float64(p.BackoffMs) * math.Pow(multiplier, float64(exp))
	if p.MaxBackoffMs > 0 && ms > float64(p.MaxBackoffMs) {
		ms = float64(p.MaxBackoffMs)
	}
	if ceiling := float64(MaxRetryBackoff / time.Millisecond); ms > ceiling {
		ms = ceiling
	}
	return time.Duration(ms) * time.Millisecond
}

func (p RetryPolicy) AttemptTimeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}
