// Package sigv4 signs SES Query API requests with AWS Signature Version 4.
//
// Only the subset SES needs is implemented: POST to "/" with a form body, no
// query string, and a fixed set of signed headers.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"sesmailer/internal/credentials"
)

const (
	Algorithm = "AWS4-HMAC-SHA256"

	amzDateFormat   = "20060102T150405Z"
	dateStampFormat = "20060102"
)

// Request is the part of an HTTP request that gets signed.
type Request struct {
	Method      string
	Host        string
	URI         string
	ContentType string
	Body        []byte
	Time        time.Time
}

// Signed holds the header values produced for one request.
type Signed struct {
	Authorization string
	AmzDate       string
	PayloadHash   string
	SecurityToken string
	SignedHeaders string

	CanonicalRequest string
	StringToSign     string
}

// Sign computes the signature for req. It has no hidden state: the same
// inputs always produce the same output.
func Sign(creds credentials.Credentials, service string, req Request) Signed {
	t := req.Time.UTC()
	amzDate := t.Format(amzDateFormat)
	dateStamp := t.Format(dateStampFormat)
	payloadHash := hashHex(req.Body)

	uri := req.URI
	if uri == "" {
		uri = "/"
	}

	var ch strings.Builder
	ch.WriteString("content-type:" + req.ContentType + "\n")
	ch.WriteString("host:" + req.Host + "\n")
	ch.WriteString("x-amz-content-sha256:" + payloadHash + "\n")
	ch.WriteString("x-amz-date:" + amzDate + "\n")
	signedHeaders := "content-type;host;x-amz-content-sha256;x-amz-date"
	if creds.SessionToken != "" {
		ch.WriteString("x-amz-security-token:" + creds.SessionToken + "\n")
		signedHeaders += ";x-amz-security-token"
	}

	canonical := req.Method + "\n" + uri + "\n\n" + ch.String() + "\n" + signedHeaders + "\n" + payloadHash

	scope := Scope(dateStamp, creds.Region, service)
	stringToSign := Algorithm + "\n" + amzDate + "\n" + scope + "\n" + hashHex([]byte(canonical))

	key := SigningKey(creds.SecretKey, dateStamp, creds.Region, service)
	signature := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	return Signed{
		Authorization:    Algorithm + " Credential=" + creds.AccessKey + "/" + scope + ", SignedHeaders=" + signedHeaders + ", Signature=" + signature,
		AmzDate:          amzDate,
		PayloadHash:      payloadHash,
		SecurityToken:    creds.SessionToken,
		SignedHeaders:    signedHeaders,
		CanonicalRequest: canonical,
		StringToSign:     stringToSign,
	}
}

// Scope returns the credential scope "<date>/<region>/<service>/aws4_request".
func Scope(dateStamp, region, service string) string {
	return dateStamp + "/" + region + "/" + service + "/aws4_request"
}

// SigningKey derives the per-day signing key from the secret key.
func SigningKey(secret, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

// Apply sets the signed headers on h. Host is carried by the request itself.
func (s Signed) Apply(h http.Header, contentType string) {
	h.Set("Content-Type", contentType)
	h.Set("X-Amz-Date", s.AmzDate)
	h.Set("X-Amz-Content-Sha256", s.PayloadHash)
	h.Set("Authorization", s.Authorization)
	if s.SecurityToken != "" {
		h.Set("X-Amz-Security-Token", s.SecurityToken)
	}
}

// Headers returns the signed headers as a flat map, for HTTP clients that
// take one.
func (s Signed) Headers(contentType string) map[string]string {
	h := http.Header{}
	s.Apply(h, contentType)
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func hmacSHA256(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write(data)
	return m.Sum(nil)
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
