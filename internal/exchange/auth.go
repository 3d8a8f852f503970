package exchange

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strconv"
	"time"
)

// Auth signs exchange API requests with RSA-PSS.
//
// Every request carries three headers: the API key id, a millisecond
// timestamp, and a base64 signature over "timestamp + method + path [+ body]"
// computed with SHA-256, MGF1-SHA-256, and maximum salt length.
type Auth struct {
	apiKeyID string
	key      *rsa.PrivateKey
}

// NewAuth parses the PEM private key and returns a signer. Both PKCS#8 and
// PKCS#1 encodings are accepted.
func NewAuth(apiKeyID, pemKey string) (*Auth, error) {
	if apiKeyID == "" {
		return nil, fmt.Errorf("api key id is empty")
	}
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}

	var key *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("PKCS#8 key is %T, want RSA", parsed)
		}
		key = rsaKey
	} else if rsaKey, err2 := x509.ParsePKCS1PrivateKey(block.Bytes); err2 == nil {
		key = rsaKey
	} else {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &Auth{apiKeyID: apiKeyID, key: key}, nil
}

// Headers returns the auth headers for a request about to be sent.
func (a *Auth) Headers(method, path, body string) (map[string]string, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig, err := a.sign(ts + method + path + body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"KALSHI-ACCESS-KEY":       a.apiKeyID,
		"KALSHI-ACCESS-SIGNATURE": sig,
		"KALSHI-ACCESS-TIMESTAMP": ts,
	}, nil
}

func (a *Auth) sign(message string) (string, error) {
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPSS(rand.Reader, a.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return "", fmt.Errorf("rsa-pss sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
