package cas

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// apiResponse is the superset of fields the provider returns across all
// JSON endpoints; absent fields unmarshal to zero values.
type apiResponse struct {
	Code                 flexInt `json:"code"`
	Info                 string  `json:"info"`
	Success              bool    `json:"success"`
	PublicKey            string  `json:"publicKey"`
	TgtCookie            string  `json:"tgtCookie"`
	RedirectURL          string  `json:"redirectUrl"`
	MaxAge               int     `json:"maxAge"`
	NeedStage2Validation bool    `json:"needStage2Validation"`
}

// flexInt tolerates the provider emitting codes as either JSON numbers or
// quoted strings.
type flexInt int

func (v *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = 0
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("response code %q is not numeric", data)
	}
	*v = flexInt(n)
	return nil
}

// Provider response codes. Classification falls back to keywords in the
// info text where the codes are ambiguous, mirroring what the provider's
// own front end does.
const (
	codeOK              = 200
	codeOKRedirect      = 201
	codeInvalidTicket   = 400
	codeBadIdentifier   = 401
	codeBadCredentials  = 402
	codeStage2Required  = 502
	codeBadSMSCode      = 503
	codeCaptchaRequired = 4000
	codeBadCaptcha      = 4001
	codeRateLimited     = 5001
	codeCipherExpired   = 5002
)

func isOK(code int) bool { return code >= 200 && code < 300 }

func containsAny(s string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// VerifyResult reports a positive ticket validation.
type VerifyResult struct {
	// RedirectURL is the target-service redirect, when a service was named.
	RedirectURL string
}

func classifyVerify(resp apiResponse) (*VerifyResult, error) {
	if isOK(int(resp.Code)) && resp.Success {
		return &VerifyResult{RedirectURL: unescapeRedirect(resp.RedirectURL)}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionExpired, resp.Info)
}

func classifyNeedCaptcha(resp apiResponse) (bool, error) {
	switch {
	case int(resp.Code) == codeCaptchaRequired:
		return true, nil
	case isOK(int(resp.Code)):
		return false, nil
	default:
		return false, &ProtocolError{Code: int(resp.Code), Info: resp.Info}
	}
}

// KeyResponse is the outcome of a key fetch. Fresh reports whether the
// provider generated a new key for this fetch; a fresh response carries a
// new correlation token, a reused one does not.
type KeyResponse struct {
	PublicKey        string
	Fresh            bool
	CorrelationToken string
}

func classifyCipherKey(resp apiResponse) (string, error) {
	if isOK(int(resp.Code)) && resp.Success && resp.PublicKey != "" {
		return resp.PublicKey, nil
	}
	return "", &ProtocolError{Code: int(resp.Code), Info: resp.Info}
}

// LoginResult is the outcome of a credential submission. Stage2Required is
// a control-flow signal, not an error: no ticket was issued and the flow
// must run the second-factor round.
type LoginResult struct {
	Ticket         string
	RedirectURL    string
	MaxAge         int
	Stage2Required bool
}

func classifyLogin(resp apiResponse) (*LoginResult, error) {
	code := int(resp.Code)

	if isOK(code) && resp.Success && resp.TgtCookie != "" {
		return &LoginResult{
			Ticket:      resp.TgtCookie,
			RedirectURL: unescapeRedirect(resp.RedirectURL),
			MaxAge:      resp.MaxAge,
		}, nil
	}

	// The provider signals an untrusted device with code 502; the
	// needStage2Validation flag has been observed to stay false, so the
	// info text is the fallback.
	if code == codeStage2Required || resp.NeedStage2Validation ||
		(strings.Contains(resp.Info, "设备") && strings.Contains(resp.Info, "验证")) {
		return &LoginResult{Stage2Required: true}, nil
	}

	switch {
	case code == codeBadIdentifier:
		return nil, fmt.Errorf("%w: %s", ErrMalformedIdentifier, resp.Info)
	case code == codeBadCredentials, containsAny(resp.Info, "用户名", "密码"):
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, resp.Info)
	case code == codeCaptchaRequired:
		return nil, fmt.Errorf("%w: %s", ErrCaptchaRequired, resp.Info)
	case code == codeBadCaptcha:
		return nil, fmt.Errorf("%w: %s", ErrCaptchaIncorrect, resp.Info)
	case code == codeBadSMSCode:
		return nil, fmt.Errorf("%w: %s", ErrSecondFactorIncorrect, resp.Info)
	case code == codeCipherExpired, containsAny(resp.Info, "过期", "失效", "刷新"):
		return nil, fmt.Errorf("%w: %s", ErrKeyCorrelation, resp.Info)
	case strings.Contains(resp.Info, "验证码"):
		return nil, fmt.Errorf("%w: %s", ErrCaptchaIncorrect, resp.Info)
	default:
		return nil, &ProtocolError{Code: code, Info: resp.Info}
	}
}

// SendCodeResult reports a successfully dispatched one-time code.
type SendCodeResult struct {
	// Phone is the (partially masked) registered number the code went to,
	// parsed from the provider's confirmation text; empty when absent.
	Phone string
}

var phonePattern = regexp.MustCompile(`\d{11}`)

func classifySendCode(resp apiResponse) (*SendCodeResult, error) {
	code := int(resp.Code)

	if isOK(code) && resp.Success {
		return &SendCodeResult{Phone: phonePattern.FindString(resp.Info)}, nil
	}

	switch {
	case code == codeRateLimited, containsAny(resp.Info, "过多", "重试"):
		return nil, &RateLimitError{Code: code, Info: resp.Info}
	case code == codeCipherExpired, containsAny(resp.Info, "过期", "失效", "刷新"):
		return nil, fmt.Errorf("%w: %s", ErrKeyCorrelation, resp.Info)
	default:
		return nil, &ProtocolError{Code: code, Info: resp.Info}
	}
}

func classifyLogout(resp apiResponse) error {
	if isOK(int(resp.Code)) && resp.Success {
		return nil
	}
	// Logging out a session the provider no longer knows is not a failure.
	if int(resp.Code) == codeInvalidTicket {
		return nil
	}
	return &ProtocolError{Code: int(resp.Code), Info: resp.Info}
}

// unescapeRedirect decodes the percent-encoded redirect URL the provider
// returns; a value that fails to decode is passed through untouched.
func unescapeRedirect(raw string) string {
	if raw == "" {
		return ""
	}
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}
