// Package castest runs a scripted in-process double of the authentication
// provider for tests. It generates a real RSA keypair, serves the public
// key in the provider's URL-safe base64 encoding, and decrypts submitted
// credentials with PKCS#1 v1.5, so the whole codec path is exercised
// end-to-end. Responses follow the provider's observed code and info-text
// conventions.
package castest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Config scripts the provider's behavior for one test server.
type Config struct {
	// Username and Password are the only credentials the server accepts.
	Username string
	Password string

	// CaptchaRequired makes needCaptcha demand a captcha; first-stage
	// submissions must then carry CaptchaAnswer.
	CaptchaRequired bool
	CaptchaAnswer   string

	// Stage2 demands a one-time code from fingerprints not listed in
	// TrustedFingerprints.
	Stage2              bool
	TrustedFingerprints []string
	SMSCode             string

	// AlwaysStage2 keeps demanding stage-2 even after a correct code, to
	// provoke the anomaly path.
	AlwaysStage2 bool

	// RateLimitSendCode rejects the first N sendStage2Code calls with the
	// provider's rate-limit outcome.
	RateLimitSendCode int

	// ReuseKey pre-generates the keypair and never issues a correlation
	// cookie, simulating a key whose cookie went to some earlier session.
	ReuseKey bool

	// ValidTickets are accepted by verifyTgt in addition to tickets the
	// server itself issued.
	ValidTickets []string

	// MaxAge is returned on successful logins. Zero means session-scoped.
	MaxAge int
}

// Submission is one casLogin call as the server saw it, with the encrypted
// fields already decrypted.
type Submission struct {
	Service       string
	Username      string
	Password      string
	Captcha       string
	Fingerprint   string
	SMSCode       string
	HadSMSCode    bool
	Correlation   string
	KeyDecryptErr bool
}

// Server is the scripted provider double.
type Server struct {
	HTTP *httptest.Server

	mu          sync.Mutex
	cfg         Config
	priv        *rsa.PrivateKey
	token       string
	tokenSeq    int
	ticketSeq   int
	issued      map[string]bool
	dispatched  string
	rateLimited int

	keyFetches  int
	loginCalls  int
	sendCalls   int
	verifyCalls int
	captchaGets int
	submissions []Submission
}

// New starts the double. The server is shut down with the test.
func New(t *testing.T, cfg Config) *Server {
	t.Helper()

	s := &Server{cfg: cfg, issued: make(map[string]bool)}
	for _, ticket := range cfg.ValidTickets {
		s.issued[ticket] = true
	}
	if cfg.ReuseKey {
		s.rotateKey()
	}

	r := chi.NewRouter()
	r.Post("/auth/casback/verifyTgt", s.handleVerify)
	r.Get("/auth/casback/needCaptcha", s.handleNeedCaptcha)
	r.Get("/auth/casback/getCaptcha", s.handleCaptcha)
	r.Post("/auth/casback/getChiperKey", s.handleCipherKey)
	r.Post("/auth/casback/casLogin", s.handleLogin)
	r.Post("/auth/casback/sendStage2Code", s.handleSendCode)
	r.Post("/auth/casback/casLogout", s.handleLogout)

	s.HTTP = httptest.NewServer(r)
	t.Cleanup(s.HTTP.Close)
	return s
}

// BaseURL is the value to hand to cas.WithBaseURL.
func (s *Server) BaseURL() string { return s.HTTP.URL + "/auth/casback/" }

// Counters.

func (s *Server) KeyFetches() int  { s.mu.Lock(); defer s.mu.Unlock(); return s.keyFetches }
func (s *Server) LoginCalls() int  { s.mu.Lock(); defer s.mu.Unlock(); return s.loginCalls }
func (s *Server) SendCalls() int   { s.mu.Lock(); defer s.mu.Unlock(); return s.sendCalls }
func (s *Server) VerifyCalls() int { s.mu.Lock(); defer s.mu.Unlock(); return s.verifyCalls }
func (s *Server) CaptchaGets() int { s.mu.Lock(); defer s.mu.Unlock(); return s.captchaGets }

// Submissions returns every casLogin call observed so far.
func (s *Server) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Submission, len(s.submissions))
	copy(out, s.submissions)
	return out
}

// SetReuseKey toggles reuse responses at runtime.
func (s *Server) SetReuseKey(reuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.ReuseKey = reuse
}

// IssuedTicket reports whether the server has issued or accepts the ticket.
func (s *Server) IssuedTicket(ticket string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued[ticket]
}

// rotateKey must be called with mu held (or before serving starts).
func (s *Server) rotateKey() {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		panic(fmt.Sprintf("castest: generating key: %v", err))
	}
	s.priv = priv
	s.tokenSeq++
	s.token = fmt.Sprintf("uid-%d", s.tokenSeq)
}

func (s *Server) publicKey() string {
	der, err := x509.MarshalPKIXPublicKey(&s.priv.PublicKey)
	if err != nil {
		panic(fmt.Sprintf("castest: encoding key: %v", err))
	}
	// The provider ships the SPKI base64 with the URL-safe alphabet and no
	// padding or framing.
	return base64.RawURLEncoding.EncodeToString(der)
}

func (s *Server) decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	plain, err := rsa.DecryptPKCS1v15(nil, s.priv, raw)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func writeJSON(w http.ResponseWriter, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func cookieValue(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyCalls++

	var req struct {
		Service string `json:"service"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	ticket := cookieValue(r, "TGT")
	if ticket == "" || !s.issued[ticket] {
		writeJSON(w, map[string]any{
			"code": 400, "info": "verify tgt Failed. tgt is not vaild", "success": false,
		})
		return
	}
	if req.Service != "" {
		writeJSON(w, map[string]any{
			"code": 201, "info": "verify tgt success", "success": true,
			"redirectUrl": url.QueryEscape(req.Service + "?ticket=ST-" + ticket),
		})
		return
	}
	writeJSON(w, map[string]any{"code": 200, "info": "verify tgt success", "success": true})
}

func (s *Server) handleNeedCaptcha(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.CaptchaRequired {
		writeJSON(w, map[string]any{"code": 4000, "info": "需要验证码", "success": true})
		return
	}
	writeJSON(w, map[string]any{"code": 200, "info": "不需要验证码", "success": true})
}

func (s *Server) handleCaptcha(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.captchaGets++
	s.mu.Unlock()
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write([]byte("fake-captcha-image"))
}

func (s *Server) handleCipherKey(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyFetches++

	if s.cfg.ReuseKey && s.priv != nil {
		// Reused key: same material, no correlation cookie.
		writeJSON(w, map[string]any{
			"code": 200, "info": "reuse public key", "success": true,
			"publicKey": s.publicKey(),
		})
		return
	}

	s.rotateKey()
	http.SetCookie(w, &http.Cookie{Name: "CHIPER_UID", Value: s.token, Path: "/"})
	writeJSON(w, map[string]any{
		"code": 200, "info": "get public key success", "success": true,
		"publicKey": s.publicKey(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginCalls++

	var req struct {
		Service          string `json:"service"`
		Username         string `json:"username"`
		Password         string `json:"password"`
		Captcha          string `json:"captcha"`
		FingerPrint      string `json:"fingerPrint"`
		MobileVerifyCode string `json:"mobileVerifyCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, map[string]any{"code": 500, "info": "bad request", "success": false})
		return
	}

	sub := Submission{
		Service:     req.Service,
		Username:    req.Username,
		Captcha:     req.Captcha,
		Fingerprint: req.FingerPrint,
		HadSMSCode:  req.MobileVerifyCode != "",
		Correlation: cookieValue(r, "CHIPER_UID"),
	}

	if s.priv == nil || cookieValue(r, "CHIPER_UID") != s.token {
		s.submissions = append(s.submissions, sub)
		writeJSON(w, map[string]any{"code": 5002, "info": "登录态失效，请刷新页面重新登录", "success": false})
		return
	}

	password, err := s.decrypt(req.Password)
	if err != nil {
		sub.KeyDecryptErr = true
		s.submissions = append(s.submissions, sub)
		writeJSON(w, map[string]any{"code": 5002, "info": "登录态失效，请刷新页面重新登录", "success": false})
		return
	}
	sub.Password = password
	if req.MobileVerifyCode != "" {
		code, err := s.decrypt(req.MobileVerifyCode)
		if err != nil {
			sub.KeyDecryptErr = true
			s.submissions = append(s.submissions, sub)
			writeJSON(w, map[string]any{"code": 5002, "info": "登录态失效，请刷新页面重新登录", "success": false})
			return
		}
		sub.SMSCode = code
	}
	s.submissions = append(s.submissions, sub)

	// Each key is single-use: a submission consumes the correlation.
	consumed := s.token
	defer func() {
		if s.token == consumed && !s.cfg.ReuseKey {
			s.priv = nil
			s.token = ""
		}
	}()

	if !numeric(req.Username) {
		writeJSON(w, map[string]any{"code": 401, "info": "账号格式有误", "success": false})
		return
	}

	// Captcha gates the first-stage submission only.
	if s.cfg.CaptchaRequired && req.MobileVerifyCode == "" {
		if req.Captcha == "" {
			writeJSON(w, map[string]any{"code": 4000, "info": "需要验证码", "success": false})
			return
		}
		if req.Captcha != s.cfg.CaptchaAnswer {
			writeJSON(w, map[string]any{"code": 4001, "info": "验证码错误", "success": false})
			return
		}
	}

	if req.Username != s.cfg.Username || password != s.cfg.Password {
		writeJSON(w, map[string]any{"code": 402, "info": "用户名或密码错误", "success": false})
		return
	}

	if s.stage2Needed(req.FingerPrint, sub.SMSCode, sub.HadSMSCode) {
		writeJSON(w, map[string]any{
			"code": 502, "info": "非可信设备，需要二次验证", "success": false,
			"needStage2Validation": false,
		})
		return
	}
	if sub.HadSMSCode && sub.SMSCode != s.dispatched {
		writeJSON(w, map[string]any{"code": 503, "info": "短信验证码错误", "success": false})
		return
	}

	s.ticketSeq++
	ticket := fmt.Sprintf("tgt-%d", s.ticketSeq)
	s.issued[ticket] = true
	http.SetCookie(w, &http.Cookie{Name: "TGT", Value: ticket, Path: "/"})

	resp := map[string]any{
		"code": 200, "info": "Authentication Success", "success": true,
		"tgtCookie": ticket, "maxAge": s.cfg.MaxAge,
	}
	if req.Service != "" {
		resp["redirectUrl"] = url.QueryEscape(req.Service + "?ticket=ST-" + ticket)
	}
	writeJSON(w, resp)
}

// stage2Needed must be called with mu held.
func (s *Server) stage2Needed(fingerprint, code string, hadCode bool) bool {
	if s.cfg.AlwaysStage2 {
		return true
	}
	if !s.cfg.Stage2 {
		return false
	}
	for _, trusted := range s.cfg.TrustedFingerprints {
		if fingerprint == trusted {
			return false
		}
	}
	// An untrusted device passes once it presents any code; correctness is
	// judged by the caller of stage2Needed.
	return !hadCode
}

func (s *Server) handleSendCode(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCalls++

	var req struct {
		UserID string `json:"userId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if cookieValue(r, "CHIPER_UID") == "" {
		writeJSON(w, map[string]any{"code": 5002, "info": "登录态失效，请刷新页面重新登录", "success": false})
		return
	}
	if s.rateLimited < s.cfg.RateLimitSendCode {
		s.rateLimited++
		writeJSON(w, map[string]any{"code": 5001, "info": "请求过多，请稍后重试", "success": false})
		return
	}

	s.dispatched = s.cfg.SMSCode
	writeJSON(w, map[string]any{
		"code": 200, "info": "验证码已发送 13812345678，5分钟有效", "success": true,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket := cookieValue(r, "TGT")
	if ticket == "" || !s.issued[ticket] {
		writeJSON(w, map[string]any{"code": 400, "info": "user not login", "success": false})
		return
	}
	delete(s.issued, ticket)
	writeJSON(w, map[string]any{"code": 200, "info": "CASLogout Success", "success": true})
}

func numeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
