package challenge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const DefaultRecaptchaURL = "https://www.google.com/recaptcha/api/siteverify"

type Recaptcha struct {
	siteKey   string
	secret    string
	verifyURL string
	client    *http.Client
}
type siteverifyResp struct {
	Success    bool     `json:"success"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

func NewRecaptcha(siteKey, secret, verifyURL string, client *http.Client) *Recaptcha {
	if verifyURL == "" {
		verifyURL = DefaultRecaptchaURL
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Recaptcha{siteKey: siteKey, secret: secret, verifyURL: verifyURL, client: client}
}
func (r *Recaptcha) Mode() string { return ModeRecaptcha }
func (r *Recaptcha) Prompt() (Prompt, error) {
	return Prompt{Mode: ModeRecaptcha, SiteKey: r.siteKey}, nil
}

// Verify trusts the provider's success flag. An empty token is rejected
// without a network call.
func (r *Recaptcha) Verify(ctx context.Context, p Proof) (bool, error) {
	if p.Honeypot != "" {
		return reject(ErrHoneypot)
	}
	if p.Token == "" {
		return reject(ErrTokenMissing)
	}
	form := url.Values{}
	form.Set("secret", r.secret)
	form.Set("response", p.Token)
	if p.RemoteIP != "" && p.RemoteIP != "anonymous" {
		form.Set("remoteip", p.RemoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, errors.Wrap(err, "build siteverify request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := r.client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "siteverify request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, errors.Errorf("siteverify returned %d", resp.StatusCode)
	}
	var out siteverifyResp
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&out); err != nil {
		return false, errors.Wrap(err, "decode siteverify response")
	}
	if !out.Success {
		return reject(ErrCaptchaRejected)
	}
	return true, nil
}
