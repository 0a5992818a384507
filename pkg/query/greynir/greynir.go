// Package greynir implements [query.Client] against the Greynir query API.
//
// Queries are sent as form-encoded POSTs to /query.api/v1. Every recognised
// alternative is sent, joined with "|", so the server can pick the candidate
// that parses best. When voice answers are enabled the server returns a URL to
// a synthesised mp3 alongside the text answer.
//
// Example usage:
//
//	c, err := greynir.New("", greynir.WithVoice("Dora"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ans, err := c.Submit(ctx, query.Request{Alternatives: []string{"hvað er klukkan"}})
package greynir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/embla/pkg/query"
)

const (
	// DefaultBaseURL is the public Greynir server.
	DefaultBaseURL = "https://greynir.is"

	queryPath   = "/query.api/v1"
	speechPath  = "/speech.api/v1"
	historyPath = "/query_history.api/v1"

	defaultTimeout = 10 * time.Second
)

// ErrNoAnswer is returned when the server could not answer the query.
var ErrNoAnswer = errors.New("greynir: no answer")

// Ensure Client implements the query interfaces at compile time.
var (
	_ query.Client         = (*Client)(nil)
	_ query.HistoryClearer = (*Client)(nil)
	_ query.Speaker        = (*Client)(nil)
)

// Client talks to a Greynir server. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	voice      bool
	voiceID    string
	voiceSpeed float64
	test       bool
}

// Option is a functional option for Client.
type Option func(*Client)

// WithVoice asks the server for spoken answers in the named voice (e.g.
// "Dora", "Karl"). An empty voice keeps the server default.
func WithVoice(voiceID string) Option {
	return func(c *Client) {
		c.voice = true
		c.voiceID = voiceID
	}
}

// WithVoiceSpeed sets the speaking rate of voice answers. 1.0 is normal.
func WithVoiceSpeed(speed float64) Option {
	return func(c *Client) { c.voiceSpeed = speed }
}

// WithTimeout sets the per-request timeout. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTestMode marks queries as test queries so the server does not log them.
func WithTestMode() Option {
	return func(c *Client) { c.test = true }
}

// New constructs a Client. baseURL defaults to DefaultBaseURL; a trailing
// slash is stripped.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("greynir: invalid base URL %q", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// queryResponse is the JSON body returned by /query.api/v1.
type queryResponse struct {
	Valid    bool   `json:"valid"`
	Error    string `json:"error"`
	Answer   string `json:"answer"`
	Response string `json:"response"`
	Question string `json:"q"`
	Source   string `json:"source"`
	Audio    string `json:"audio"`
	Command  string `json:"command"`
	OpenURL  string `json:"open_url"`
	Image    string `json:"image"`
}

// Submit implements [query.Client].
func (c *Client) Submit(ctx context.Context, req query.Request) (*query.Answer, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	form := clientForm(req.Client)
	form.Set("q", strings.Join(req.Alternatives, "|"))
	if c.voice {
		form.Set("voice", "1")
		if c.voiceID != "" {
			form.Set("voice_id", c.voiceID)
		}
		if c.voiceSpeed > 0 {
			form.Set("voice_speed", strconv.FormatFloat(c.voiceSpeed, 'f', 2, 64))
		}
	}
	if c.test {
		form.Set("test", "1")
	}
	if loc := req.Client.Location; loc != nil {
		form.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
		form.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	}

	var resp queryResponse
	if err := c.post(ctx, queryPath, form, &resp); err != nil {
		return nil, fmt.Errorf("greynir: submit: %w", err)
	}
	if !resp.Valid {
		if resp.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoAnswer, resp.Error)
		}
		return nil, ErrNoAnswer
	}

	text := resp.Answer
	if text == "" {
		text = resp.Response
	}
	ans := &query.Answer{
		Text:     text,
		Question: resp.Question,
		Source:   resp.Source,
		Command:  resp.Command,
		OpenURL:  resp.OpenURL,
		ImageURL: resp.Image,
	}
	ans.Audio.URL = resp.Audio
	return ans, nil
}

// speechResponse is the JSON body returned by /speech.api/v1.
type speechResponse struct {
	Err      bool   `json:"err"`
	AudioURL string `json:"audio_url"`
}

// SpeechURL implements [query.Speaker] using the server's speech synthesis
// endpoint.
func (c *Client) SpeechURL(ctx context.Context, text string) (string, error) {
	form := url.Values{"text": {text}}
	if c.voiceID != "" {
		form.Set("voice_id", c.voiceID)
	}
	if c.voiceSpeed > 0 {
		form.Set("voice_speed", strconv.FormatFloat(c.voiceSpeed, 'f', 2, 64))
	}
	var resp speechResponse
	if err := c.post(ctx, speechPath, form, &resp); err != nil {
		return "", fmt.Errorf("greynir: speech: %w", err)
	}
	if resp.Err || resp.AudioURL == "" {
		return "", errors.New("greynir: speech: server returned no audio")
	}
	return resp.AudioURL, nil
}

// historyResponse is the JSON body returned by /query_history.api/v1.
type historyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

// ClearHistory implements [query.HistoryClearer]. With all set, every datum
// the server stores for the client is erased, not just the query log.
func (c *Client) ClearHistory(ctx context.Context, client query.ClientInfo, all bool) error {
	if client.ID == "" {
		return errors.New("greynir: clear history: client id must not be empty")
	}
	form := clientForm(client)
	form.Set("action", "clear")
	if all {
		form.Set("action", "clear_all")
	}
	var resp historyResponse
	if err := c.post(ctx, historyPath, form, &resp); err != nil {
		return fmt.Errorf("greynir: clear history: %w", err)
	}
	if !resp.Valid {
		return fmt.Errorf("greynir: clear history: rejected: %s", resp.Reason)
	}
	return nil
}

func clientForm(ci query.ClientInfo) url.Values {
	form := url.Values{}
	if ci.Name != "" {
		form.Set("client_name", ci.Name)
	}
	if ci.Type != "" {
		form.Set("client_type", ci.Type)
	}
	if ci.Version != "" {
		form.Set("client_version", ci.Version)
	}
	if ci.ID != "" {
		form.Set("client_id", ci.ID)
	}
	return form
}

// post sends form to path and decodes the JSON response into out.
func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
