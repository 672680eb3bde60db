package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Reason int

const (
	Missing Reason = iota + 1
	Expired
	Malformed
)

func (r Reason) String() string {
	switch r {
	case Missing:
		return "missing"
	case Expired:
		return "expired"
	case Malformed:
		return "malformed"
	}
	return "unknown"
}

// VerificationError is returned by every Verifier when a token is not accepted.
type VerificationError struct {
	Reason Reason
	Err    error
}

func (e *VerificationError) Error() string {
	switch e.Reason {
	case Missing:
		return "authentication token is missing"
	case Expired:
		return "token has expired"
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid token: %s", e.Err)
	}
	return "invalid token"
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the failure reason of err, Malformed for errors that are not a VerificationError.
func ReasonOf(err error) Reason {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return Malformed
}

// Verifier validates a bearer token and returns the stable user id it was issued for.
// Implementations have no side effects.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type timeoutVerifier struct {
	next    Verifier
	timeout time.Duration
}

// WithTimeout bounds the verification time of v. A verification that takes longer than d fails as Expired.
func WithTimeout(v Verifier, d time.Duration) Verifier {
	if d <= 0 {
		return v
	}
	return &timeoutVerifier{next: v, timeout: d}
}

type verifyResult struct {
	userId string
	err    error
}

func (t *timeoutVerifier) Verify(ctx context.Context, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	res := make(chan verifyResult, 1)
	go func() {
		userId, err := t.next.Verify(ctx, token)
		res <- verifyResult{userId, err}
	}()
	select {
	case r := <-res:
		return r.userId, r.err
	case <-ctx.Done():
		return "", &VerificationError{Reason: Expired, Err: ctx.Err()}
	}
}

type chain []Verifier

// Chain combines verifiers: the first one accepting the token wins. If all of them reject it, Expired is
// reported over Malformed, as the token was recognized by at least one verifier.
func Chain(verifiers ...Verifier) Verifier {
	if len(verifiers) == 1 {
		return verifiers[0]
	}
	return chain(verifiers)
}

func (c chain) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", &VerificationError{Reason: Missing}
	}
	var firstErr error
	for _, v := range c {
		userId, err := v.Verify(ctx, token)
		if err == nil {
			return userId, nil
		}
		if ReasonOf(err) == Expired {
			return "", err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = &VerificationError{Reason: Malformed, Err: errors.New("no verifier configured")}
	}
	return "", firstErr
}
