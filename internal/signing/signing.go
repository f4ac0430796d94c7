// Package signing issues and checks short-lived HMAC signatures for links to
// stored X-ray images.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Signer generates and validates HMAC-SHA256 signatures over a stored file
// name and an expiry timestamp.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex signature for name valid until expiresUnix.
func (s *Signer) Sign(name string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(fmt.Sprintf("%s:%d", name, expiresUnix)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate reports whether signature matches name and expires and the expiry
// has not passed yet.
func (s *Signer) Validate(name, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	if s.now().Unix() > exp {
		return false
	}
	expected := s.Sign(name, exp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// URL builds a relative link of the form prefix/name?expires=..&signature=..
// that stays valid for ttl.
func (s *Signer) URL(prefix, name string, ttl time.Duration) string {
	exp := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(exp, 10))
	q.Set("signature", s.Sign(name, exp))
	return prefix + "/" + url.PathEscape(name) + "?" + q.Encode()
}
