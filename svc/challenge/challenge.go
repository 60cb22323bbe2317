package challenge

import (
	"bettergist/metrics"
	"bettergist/pkg/domain"
	"context"
	"net/http"
	"strings"
)

const (
	ModeArithmetic = "arithmetic"
	ModeRecaptcha  = "recaptcha"
	ModeNone       = "none"
)

var (
	ErrHoneypot         = domain.NewErr("CHALLENGE_FAILED", "verification failed", http.StatusForbidden)
	ErrChallengeInvalid = domain.NewErr("CHALLENGE_INVALID", "security check is invalid, please try again", http.StatusForbidden)
	ErrChallengeExpired = domain.NewErr("CHALLENGE_EXPIRED", "security check expired, please try again", http.StatusForbidden)
	ErrChallengeUsed    = domain.NewErr("CHALLENGE_USED", "security check already used, please try again", http.StatusForbidden)
	ErrWrongAnswer      = domain.NewErr("WRONG_ANSWER", "Incorrect answer. Please try again.", http.StatusForbidden)
	ErrTokenMissing     = domain.NewErr("CAPTCHA_REQUIRED", "please complete the captcha", http.StatusForbidden)
	ErrCaptchaRejected  = domain.NewErr("CAPTCHA_FAILED", "captcha verification failed", http.StatusForbidden)
)

// Proof is what the client submits alongside a share.
type Proof struct {
	Token    string
	Answer   string
	Honeypot string
	RemoteIP string
}

// Prompt is what the client needs to render the check.
type Prompt struct {
	Mode     string `json:"mode"`
	Question string `json:"question,omitempty"`
	Token    string `json:"token,omitempty"`
	A        int    `json:"a,omitempty"`
	B        int    `json:"b,omitempty"`
	SiteKey  string `json:"siteKey,omitempty"`
}

// Verifier gates a share. A false result always comes with a *domain.Err
// naming the reason; any other error is an infrastructure failure.
type Verifier interface {
	Verify(ctx context.Context, p Proof) (bool, error)
	Prompt() (Prompt, error)
	Mode() string
}

// Redeemer is a Verifier whose proofs are single-use. Check never spends
// the proof, so the caller can run other gates before Redeem.
type Redeemer interface {
	Verifier
	Check(ctx context.Context, p Proof) (bool, error)
	Redeem(ctx context.Context, p Proof) (bool, error)
}

type None struct{}

func (None) Verify(context.Context, Proof) (bool, error) { return true, nil }
func (None) Prompt() (Prompt, error)                     { return Prompt{Mode: ModeNone}, nil }
func (None) Mode() string                                { return ModeNone }

func reject(e *domain.Err) (bool, error) {
	metrics.ChallengeFailures.WithLabelValues(strings.ToLower(e.Code)).Inc()
	return false, e
}
