package sigv4

import (
	"encoding/hex"
	"net/http"
	"strings"
	"testing"
	"time"

	"sesmailer/internal/credentials"
)

func testRequest() Request {
	return Request{
		Method:      "POST",
		Host:        "email.us-east-1.amazonaws.com",
		URI:         "/",
		ContentType: "application/x-www-form-urlencoded; charset=utf-8",
		Body:        []byte("Action=GetSendQuota&Version=2010-12-01"),
		Time:        time.Date(2024, 3, 9, 8, 7, 6, 0, time.UTC),
	}
}

func testCreds() credentials.Credentials {
	return credentials.Credentials{
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
		Region:    "us-east-1",
	}
}

func TestSignIsDeterministic(t *testing.T) {
	a := Sign(testCreds(), "ses", testRequest())
	for i := 0; i < 5; i++ {
		b := Sign(testCreds(), "ses", testRequest())
		if a != b {
			t.Fatalf("signature changed between runs:\n%+v\n%+v", a, b)
		}
	}
}

func TestSignShape(t *testing.T) {
	s := Sign(testCreds(), "ses", testRequest())

	if s.AmzDate != "20240309T080706Z" {
		t.Fatalf("amzDate=%q", s.AmzDate)
	}
	wantPrefix := "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240309/us-east-1/ses/aws4_request, SignedHeaders=content-type;host;x-amz-content-sha256;x-amz-date, Signature="
	if !strings.HasPrefix(s.Authorization, wantPrefix) {
		t.Fatalf("authorization=%q", s.Authorization)
	}
	sig := strings.TrimPrefix(s.Authorization, wantPrefix)
	if len(sig) != 64 {
		t.Fatalf("signature length=%d", len(sig))
	}
	if _, err := hex.DecodeString(sig); err != nil {
		t.Fatalf("signature not hex: %v", err)
	}

	wantCanonical := "POST\n/\n\n" +
		"content-type:application/x-www-form-urlencoded; charset=utf-8\n" +
		"host:email.us-east-1.amazonaws.com\n" +
		"x-amz-content-sha256:" + s.PayloadHash + "\n" +
		"x-amz-date:20240309T080706Z\n" +
		"\n" +
		"content-type;host;x-amz-content-sha256;x-amz-date\n" +
		s.PayloadHash
	if s.CanonicalRequest != wantCanonical {
		t.Fatalf("canonical request:\n%q\nwant\n%q", s.CanonicalRequest, wantCanonical)
	}
	if !strings.HasPrefix(s.StringToSign, "AWS4-HMAC-SHA256\n20240309T080706Z\n20240309/us-east-1/ses/aws4_request\n") {
		t.Fatalf("string to sign=%q", s.StringToSign)
	}
}

func TestSignWithSessionToken(t *testing.T) {
	c := testCreds()
	c.SessionToken = "TOKEN"
	s := Sign(c, "ses", testRequest())
	if s.SignedHeaders != "content-type;host;x-amz-content-sha256;x-amz-date;x-amz-security-token" {
		t.Fatalf("signed headers=%q", s.SignedHeaders)
	}
	if !strings.Contains(s.CanonicalRequest, "x-amz-date:20240309T080706Z\nx-amz-security-token:TOKEN\n") {
		t.Fatalf("token missing from canonical headers: %q", s.CanonicalRequest)
	}
	if s == Sign(testCreds(), "ses", testRequest()) {
		t.Fatalf("session token did not change the signature")
	}

	h := http.Header{}
	s.Apply(h, "application/x-www-form-urlencoded; charset=utf-8")
	if h.Get("X-Amz-Security-Token") != "TOKEN" {
		t.Fatalf("token header=%q", h.Get("X-Amz-Security-Token"))
	}
}

func TestSignChangesWithInputs(t *testing.T) {
	base := Sign(testCreds(), "ses", testRequest())

	r := testRequest()
	r.Body = []byte("Action=SendRawEmail")
	if Sign(testCreds(), "ses", r).Authorization == base.Authorization {
		t.Fatalf("body change did not change signature")
	}

	r = testRequest()
	r.Time = r.Time.Add(time.Second)
	if Sign(testCreds(), "ses", r).Authorization == base.Authorization {
		t.Fatalf("time change did not change signature")
	}
}

// Published example from the AWS signing documentation.
func TestSigningKeyKnownVector(t *testing.T) {
	key := SigningKey("wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", "20120215", "us-east-1", "iam")
	want := "f4780e2d9f65fa895f9c67b32ce1baf0b0d8a43505a000a1a9e090d414db404d"
	if got := hex.EncodeToString(key); got != want {
		t.Fatalf("signing key=%s want %s", got, want)
	}
}

func TestPayloadHashOfEmptyBody(t *testing.T) {
	r := testRequest()
	r.Body = nil
	s := Sign(testCreds(), "ses", r)
	if s.PayloadHash != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("payload hash=%s", s.PayloadHash)
	}
}
