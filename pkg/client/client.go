package client

import (
	"bettergist/pkg/domain"
	"bettergist/svc/challenge"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const maxResponse = 4 << 20

// Client talks to a bettergist server's JSON API.
type Client struct {
	base string
	http *http.Client
}

func New(baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Errorf("invalid server url %q", baseURL)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{base: u.String(), http: hc}, nil
}

type shareReq struct {
	Files        []domain.File `json:"files"`
	Challenge    shareProof    `json:"challenge"`
	CaptchaToken string        `json:"captchaToken,omitempty"`
}
type shareProof struct {
	Token   string `json:"token,omitempty"`
	Answer  string `json:"answer,omitempty"`
	Website string `json:"website,omitempty"`
}
type shareResp struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Remaining int    `json:"remaining"`
}

// Share posts files and returns the snippet link.
func (c *Client) Share(ctx context.Context, files []domain.File, proof challenge.Proof) (string, error) {
	body, err := json.Marshal(shareReq{
		Files:     files,
		Challenge: shareProof{Token: proof.Token, Answer: proof.Answer, Website: proof.Honeypot},
	})
	if err != nil {
		return "", errors.Wrap(err, "encode share request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/snippets", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	var out shareResp
	if err := c.do(req, http.StatusCreated, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// Get fetches the files of snippet id.
func (c *Client) Get(ctx context.Context, id string) ([]domain.File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/snippets/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Files []domain.File `json:"files"`
	}
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}
func (c *Client) Challenge(ctx context.Context) (challenge.Prompt, error) {
	var p challenge.Prompt
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/challenge", nil)
	if err != nil {
		return p, err
	}
	err = c.do(req, http.StatusOK, &p)
	return p, err
}

// do sends req and decodes the JSON body into out. Error bodies become a
// *domain.Err carrying the server's message and status.
func (c *Client) do(req *http.Request, want int, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode != want {
		var e struct {
			Error string `json:"error"`
		}
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		code := strings.ToUpper(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
		return domain.NewErr(code, msg, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// PromptGate solves the server's challenge on a terminal. A preset answer
// skips the prompt.
type PromptGate struct {
	Client *Client
	In     io.Reader
	Out    io.Writer
	Answer string
}

func (g *PromptGate) Solve(ctx context.Context) (challenge.Proof, error) {
	p, err := g.Client.Challenge(ctx)
	if err != nil {
		return challenge.Proof{}, err
	}
	switch p.Mode {
	case challenge.ModeNone, "":
		return challenge.Proof{}, nil
	case challenge.ModeRecaptcha:
		return challenge.Proof{}, errors.New("server requires reCAPTCHA, share from the browser instead")
	}
	answer := g.Answer
	if answer == "" {
		fmt.Fprintf(g.Out, "%s ", p.Question)
		line, err := bufio.NewReader(g.In).ReadString('\n')
		if err != nil && line == "" {
			return challenge.Proof{}, errors.Wrap(err, "read answer")
		}
		answer = strings.TrimSpace(line)
	}
	return challenge.Proof{Token: p.Token, Answer: answer}, nil
}

// WriterClipboard stands in for the system clipboard.
type WriterClipboard struct {
	W io.Writer
}

func (c WriterClipboard) WriteText(text string) error {
	_, err := fmt.Fprintln(c.W, text)
	return err
}
