package challenge

import (
	"bettergist/svc/util"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	operandMin    = 1
	operandMax    = 10
	tokenVersion  = 1
	payloadLen    = 1 + 1 + 8
	usedKeyPrefix = "challenge:"
	DefaultTTL    = 5 * time.Minute
)

// UsedTracker remembers solved tokens. MarkUsed reports whether key was
// recorded for the first time.
type UsedTracker interface {
	MarkUsed(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Arithmetic asks "What is A + B?". The expected sum and the deadline
// travel with the client inside a sealed token, so nothing is kept
// server-side per challenge.
type Arithmetic struct {
	aead cipher.AEAD
	ttl  time.Duration
	used UsedTracker
	now  func() time.Time
}

// NewArithmetic derives the sealing key from secret. An empty secret gets
// a random per-process key, which invalidates tokens on restart.
func NewArithmetic(secret []byte, ttl time.Duration) (*Arithmetic, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	defer util.Wipe(key)
	if len(secret) == 0 {
		if _, err := rand.Read(key); err != nil {
			return nil, errors.Wrap(err, "generate challenge key")
		}
	} else {
		sum := sha256.Sum256(secret)
		copy(key, sum[:])
		util.Wipe(sum[:])
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "init challenge cipher")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Arithmetic{aead: aead, ttl: ttl, now: time.Now}, nil
}

// WithReplayGuard makes each solved token single-use.
func (a *Arithmetic) WithReplayGuard(u UsedTracker) *Arithmetic {
	a.used = u
	return a
}
func (a *Arithmetic) Mode() string { return ModeArithmetic }
func (a *Arithmetic) Prompt() (Prompt, error) {
	x, err := operand()
	if err != nil {
		return Prompt{}, err
	}
	y, err := operand()
	if err != nil {
		return Prompt{}, err
	}
	token, err := a.seal(x+y, a.now().Add(a.ttl))
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{
		Mode:     ModeArithmetic,
		Question: fmt.Sprintf("What is %d + %d?", x, y),
		Token:    token,
		A:        x,
		B:        y,
	}, nil
}
func (a *Arithmetic) Verify(ctx context.Context, p Proof) (bool, error) {
	if ok, err := a.Check(ctx, p); !ok {
		return ok, err
	}
	return a.Redeem(ctx, p)
}

// Check validates the proof without spending the token.
func (a *Arithmetic) Check(_ context.Context, p Proof) (bool, error) {
	if p.Honeypot != "" {
		return reject(ErrHoneypot)
	}
	sum, deadline, err := a.open(p.Token)
	if err != nil {
		return reject(ErrChallengeInvalid)
	}
	if !a.now().Before(deadline) {
		return reject(ErrChallengeExpired)
	}
	answer, err := strconv.Atoi(strings.TrimSpace(p.Answer))
	if err != nil || answer != sum {
		return reject(ErrWrongAnswer)
	}
	return true, nil
}

// Redeem spends a checked token. Without a replay guard it always succeeds.
func (a *Arithmetic) Redeem(ctx context.Context, p Proof) (bool, error) {
	if a.used == nil {
		return true, nil
	}
	_, deadline, err := a.open(p.Token)
	if err != nil {
		return reject(ErrChallengeInvalid)
	}
	ttl := deadline.Sub(a.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	first, err := a.used.MarkUsed(ctx, usedKeyPrefix+tokenHash(p.Token), ttl)
	if err != nil {
		util.Warn().Err(err).Msg("challenge replay guard unavailable, accepting token")
		return true, nil
	}
	if !first {
		return reject(ErrChallengeUsed)
	}
	return true, nil
}
func (a *Arithmetic) seal(sum int, deadline time.Time) (string, error) {
	payload := make([]byte, payloadLen)
	payload[0] = tokenVersion
	payload[1] = byte(sum)
	binary.BigEndian.PutUint64(payload[2:], uint64(deadline.UnixMilli()))
	nonce := make([]byte, a.aead.NonceSize(), a.aead.NonceSize()+payloadLen+a.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "generate nonce")
	}
	sealed := a.aead.Seal(nonce, nonce, payload, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}
func (a *Arithmetic) open(token string) (int, time.Time, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, time.Time{}, errors.Wrap(err, "decode token")
	}
	ns := a.aead.NonceSize()
	if len(raw) < ns+a.aead.Overhead() {
		return 0, time.Time{}, errors.New("token too short")
	}
	payload, err := a.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return 0, time.Time{}, errors.Wrap(err, "open token")
	}
	if len(payload) != payloadLen || payload[0] != tokenVersion {
		return 0, time.Time{}, errors.New("unknown token format")
	}
	deadline := time.UnixMilli(int64(binary.BigEndian.Uint64(payload[2:])))
	return int(payload[1]), deadline, nil
}
func operand() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(operandMax-operandMin+1))
	if err != nil {
		return 0, errors.Wrap(err, "rand fail")
	}
	return int(n.Int64()) + operandMin, nil
}
func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
