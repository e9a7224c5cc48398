package activitypub

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-fed/httpsig"
)

// maxClockSkew bounds how far a signed Date may drift from our clock.
const maxClockSkew = 12 * time.Hour

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrDigestMismatch   = errors.New("digest does not match body")
	ErrStaleDate        = errors.New("date outside allowed skew")
)

// signedHeaderNames is the ordered list of pseudo-headers covered by a
// signature. digest is appended when the request carries a body.
func signedHeaderNames(hasBody bool) []string {
	names := []string{"(request-target)", "host", "date"}
	if hasBody {
		names = append(names, "digest")
	}
	return names
}

// SignRequest signs an outgoing request with RSA-SHA256.
// keyID format: "https://example.com/users/alice#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyID string, body []byte) error {
	if privateKey == nil {
		return errors.New("no private key")
	}
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	req.Header.Set("Host", req.URL.Host)
	req.Header.Del("Digest")

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		signedHeaderNames(body != nil),
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}
	if err := signer.SignRequest(privateKey, keyID, req, body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	return nil
}

// SignedHeaders returns the Date, Host, Signature and (with a body) Digest
// headers for a request, without sending anything. An unparsable key is
// an error; nothing is ever returned unsigned.
func SignedHeaders(privateKeyPem, keyID, method, url string, body []byte) (http.Header, error) {
	key, err := ParsePrivateKey(privateKeyPem)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if err := SignRequest(req, key, keyID, body); err != nil {
		return nil, err
	}
	out := http.Header{}
	for _, h := range []string{"Date", "Host", "Signature", "Digest"} {
		if v := req.Header.Get(h); v != "" {
			out.Set(h, v)
		}
	}
	return out, nil
}

// SignatureKeyID returns the keyId named by the request's Signature
// header without verifying anything.
func SignatureKeyID(req *http.Request) (string, error) {
	if req.Header.Get("Signature") == "" {
		return "", ErrMissingSignature
	}
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to parse signature: %w", err)
	}
	return verifier.KeyId(), nil
}

// VerifyRequest checks an inbound request's signature against the
// sender's public key, along with its Digest and Date headers.
// Returns the keyId on success.
func VerifyRequest(req *http.Request, body []byte, publicKeyPem string) (string, error) {
	if req.Header.Get("Signature") == "" {
		return "", ErrMissingSignature
	}
	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.Host)
	}

	if err := checkDate(req.Header.Get("Date")); err != nil {
		return "", err
	}
	if err := checkDigest(req.Header.Get("Digest"), body); err != nil {
		return "", err
	}
	if len(body) > 0 && !signatureCovers(req.Header.Get("Signature"), "digest") {
		return "", errors.New("signature does not cover digest")
	}

	pubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}
	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}
	return verifier.KeyId(), nil
}

// KeyOwner strips the fragment from a keyId:
// "https://example.com/users/alice#main-key" -> "https://example.com/users/alice"
func KeyOwner(keyID string) string {
	owner, _, _ := strings.Cut(keyID, "#")
	return owner
}

func checkDate(date string) error {
	if date == "" {
		return fmt.Errorf("%w: missing Date header", ErrStaleDate)
	}
	t, err := http.ParseTime(date)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStaleDate, err)
	}
	skew := time.Since(t)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxClockSkew {
		return ErrStaleDate
	}
	return nil
}

// checkDigest compares the SHA-256 entry of a Digest header with the
// body. A missing header is accepted only for an empty body.
func checkDigest(header string, body []byte) error {
	if header == "" {
		if len(body) > 0 {
			return fmt.Errorf("%w: missing Digest header", ErrDigestMismatch)
		}
		return nil
	}
	sum := sha256.Sum256(body)
	want := base64.StdEncoding.EncodeToString(sum[:])
	for _, part := range strings.Split(header, ",") {
		algo, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(algo, "SHA-256") {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(value), []byte(want)) == 1 {
			return nil
		}
		return ErrDigestMismatch
	}
	return fmt.Errorf("%w: no SHA-256 digest", ErrDigestMismatch)
}

// signatureCovers reports whether the headers="..." parameter of a
// Signature header lists name.
func signatureCovers(signature, name string) bool {
	for _, param := range strings.Split(signature, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || k != "headers" {
			continue
		}
		for _, h := range strings.Fields(strings.Trim(v, `"`)) {
			if strings.EqualFold(h, name) {
				return true
			}
		}
	}
	return false
}

// ParsePrivateKey decodes a PKCS#1 or PKCS#8 RSA private key.
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return key, nil
}

// ParsePublicKey decodes a PKIX or PKCS#1 RSA public key.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPubKey, nil
}
