// Package cas speaks the authentication provider's wire protocol: the
// small set of stateful JSON endpoints behind the university's CAS-like
// single-sign-on service.
//
// A Client owns one HTTP transport and its cookie jar. The provider keys
// server-side state to two cookies: TGT, the session ticket issued on
// successful login, and CHIPER_UID (the provider's spelling), the
// correlation token binding a fetched public key to the server-side
// private key. The jar carries both automatically; accessors exist so a
// persisted session can be restored into a new jar.
//
// The Client classifies provider responses into the package's error
// taxonomy but holds no flow state; sequencing lives in package auth.
package cas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the provider's production API root.
const DefaultBaseURL = "https://auth.seu.edu.cn/auth/casback/"

// Cookie names the provider correlates requests with.
const (
	TicketCookie      = "TGT"
	CorrelationCookie = "CHIPER_UID"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36"

const defaultTimeout = 15 * time.Second

// Client is a stateful HTTP client for one authentication session.
// Not safe for concurrent use; each login attempt owns its Client.
type Client struct {
	base      *url.URL
	origin    *url.URL
	hc        *http.Client
	log       *slog.Logger
	userAgent string

	rawBaseURL string
	timeout    time.Duration
	external   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the provider origin, e.g. for a test double.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.rawBaseURL = baseURL }
}

// WithLogger sets the structured logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// WithTimeout sets the per-request timeout. Zero disables the client-side
// timeout; the provider protocol prescribes none.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient supplies the underlying HTTP client. A cookie jar is
// installed if the client has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.external = hc }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a Client for the provider at DefaultBaseURL unless
// overridden.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		userAgent:  defaultUserAgent,
		rawBaseURL: DefaultBaseURL,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	if !strings.HasSuffix(c.rawBaseURL, "/") {
		c.rawBaseURL += "/"
	}
	base, err := url.Parse(c.rawBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	c.base = base
	c.origin = &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}

	c.hc = c.external
	if c.hc == nil {
		c.hc = &http.Client{Timeout: c.timeout}
	}
	if c.hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		c.hc.Jar = jar
	}
	return c, nil
}

// HTTPClient returns the underlying transport, cookie jar included, for
// downstream requests after authentication.
func (c *Client) HTTPClient() *http.Client { return c.hc }

// Close releases idle transport connections.
func (c *Client) Close() { c.hc.CloseIdleConnections() }

// cookie returns the named cookie's value for the provider origin.
func (c *Client) cookie(name string) string {
	for _, ck := range c.hc.Jar.Cookies(c.origin) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func (c *Client) setCookie(name, value string) {
	c.hc.Jar.SetCookies(c.origin, []*http.Cookie{{
		Name:  name,
		Value: value,
		Path:  "/",
	}})
}

func (c *Client) deleteCookie(name string) {
	c.hc.Jar.SetCookies(c.origin, []*http.Cookie{{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	}})
}

// Ticket returns the current session ticket cookie, if any.
func (c *Client) Ticket() string { return c.cookie(TicketCookie) }

// SetTicket loads a persisted session ticket into the jar.
func (c *Client) SetTicket(ticket string) { c.setCookie(TicketCookie, ticket) }

// ClearTicket drops the session ticket cookie.
func (c *Client) ClearTicket() { c.deleteCookie(TicketCookie) }

// CorrelationToken returns the current key correlation cookie, if any.
func (c *Client) CorrelationToken() string { return c.cookie(CorrelationCookie) }

// SetCorrelationToken loads a recovered correlation token into the jar.
func (c *Client) SetCorrelationToken(token string) { c.setCookie(CorrelationCookie, token) }

func (c *Client) endpoint(name string) string {
	u := *c.base
	u.Path += name
	return u.String()
}

// do issues one request with the provider's required header set and
// returns the response and its drained body. Non-2xx statuses are
// transport failures: the provider reports protocol outcomes in-band with
// HTTP 200.
func (c *Client) do(ctx context.Context, method, name string, body any) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, nil, &TransportError{Endpoint: name, Err: fmt.Errorf("encoding request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(name), reader)
	if err != nil {
		return nil, nil, &TransportError{Endpoint: name, Err: err}
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", strings.TrimSuffix(c.origin.String(), "/"))
	req.Header.Set("Referer", c.origin.String()+"dist/")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, nil, &TransportError{Endpoint: name, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &TransportError{Endpoint: name, Err: fmt.Errorf("reading response: %w", err)}
	}
	c.log.Debug("cas request", "endpoint", name, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &TransportError{Endpoint: name, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return resp, raw, nil
}

func (c *Client) doJSON(ctx context.Context, method, name string, body any) (*http.Response, apiResponse, error) {
	resp, raw, err := c.do(ctx, method, name, body)
	if err != nil {
		return nil, apiResponse{}, err
	}
	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apiResponse{}, &TransportError{Endpoint: name, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return resp, parsed, nil
}

// VerifyTicket validates the ticket currently in the jar, optionally
// naming the target service to obtain a redirect URL. Returns
// ErrSessionExpired when the provider rejects the ticket.
func (c *Client) VerifyTicket(ctx context.Context, service string) (*VerifyResult, error) {
	body := map[string]any{}
	if service != "" {
		body["service"] = service
	}
	_, parsed, err := c.doJSON(ctx, http.MethodPost, "verifyTgt", body)
	if err != nil {
		return nil, err
	}
	return classifyVerify(parsed)
}

// NeedCaptcha reports whether the provider currently demands a captcha for
// this client context. The provider tracks this per anonymous session,
// independent of identity.
func (c *Client) NeedCaptcha(ctx context.Context) (bool, error) {
	_, parsed, err := c.doJSON(ctx, http.MethodGet, "needCaptcha", nil)
	if err != nil {
		return false, err
	}
	return classifyNeedCaptcha(parsed)
}

// Captcha fetches the captcha image bytes.
func (c *Client) Captcha(ctx context.Context) ([]byte, error) {
	_, raw, err := c.do(ctx, http.MethodGet, "getCaptcha", nil)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// CipherKey fetches the session public key. A freshly generated key
// arrives with a new correlation cookie; a reused key does not, and
// KeyResponse.CorrelationToken is then empty.
func (c *Client) CipherKey(ctx context.Context) (*KeyResponse, error) {
	resp, parsed, err := c.doJSON(ctx, http.MethodPost, "getChiperKey", map[string]any{})
	if err != nil {
		return nil, err
	}
	publicKey, err := classifyCipherKey(parsed)
	if err != nil {
		return nil, err
	}

	key := &KeyResponse{PublicKey: publicKey}
	for _, ck := range resp.Cookies() {
		if ck.Name == CorrelationCookie && ck.Value != "" {
			key.Fresh = true
			key.CorrelationToken = ck.Value
		}
	}
	c.log.Debug("fetched cipher key", "fresh", key.Fresh)
	return key, nil
}

// LoginRequest carries one credential submission. The correlation token
// is deliberately absent: it travels as the CHIPER_UID cookie, never as a
// body field.
type LoginRequest struct {
	Service           string
	Username          string
	EncryptedPassword string
	// Captcha is the solved captcha answer; the empty string is the
	// provider's accepted sentinel for "no captcha needed".
	Captcha     string
	Fingerprint string
	// EncryptedSMSCode is only set on the second-factor resubmission.
	EncryptedSMSCode string
}

// Login submits credentials. A Stage2Required result is control flow, not
// an error; all other non-success outcomes are classified errors.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	body := map[string]any{
		"service":        req.Service,
		"username":       req.Username,
		"password":       req.EncryptedPassword,
		"captcha":        req.Captcha,
		"rememberMe":     true,
		"loginType":      "account",
		"wxBinded":       false,
		"mobilePhoneNum": "",
		"fingerPrint":    req.Fingerprint,
	}
	if req.EncryptedSMSCode != "" {
		body["mobileVerifyCode"] = req.EncryptedSMSCode
	}

	_, parsed, err := c.doJSON(ctx, http.MethodPost, "casLogin", body)
	if err != nil {
		return nil, err
	}
	result, err := classifyLogin(parsed)
	if err != nil {
		return nil, err
	}
	if result.Ticket != "" && c.Ticket() == "" {
		// Some deployments only return the ticket in the body.
		c.SetTicket(result.Ticket)
	}
	return result, nil
}

// SendStage2Code asks the provider to dispatch a one-time code to the
// identity's registered phone. Rate-limited: a RateLimitError outcome is
// expected under repeated calls.
func (c *Client) SendStage2Code(ctx context.Context, userID string) (*SendCodeResult, error) {
	_, parsed, err := c.doJSON(ctx, http.MethodPost, "sendStage2Code", map[string]any{"userId": userID})
	if err != nil {
		return nil, err
	}
	return classifySendCode(parsed)
}

// Logout invalidates the current ticket at the provider. A ticket the
// provider no longer recognizes counts as logged out.
func (c *Client) Logout(ctx context.Context) error {
	_, parsed, err := c.doJSON(ctx, http.MethodPost, "casLogout", map[string]any{})
	if err != nil {
		return err
	}
	if err := classifyLogout(parsed); err != nil {
		return err
	}
	c.ClearTicket()
	return nil
}
