package ses

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"sesmailer/internal/credentials"
)

var fixedNow = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

func testCreds() credentials.Credentials {
	return credentials.Credentials{AccessKey: "AKID", SecretKey: "SECRET", Region: "us-east-1"}
}

func TestBuildQuery(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		params map[string]string
		want   string
	}{
		{"sorted", map[string]string{"B": "2", "A": "1"}, "A=1&B=2"},
		{"tilde literal", map[string]string{"k": "a~b"}, "k=a~b"},
		{"reserved encoded", map[string]string{"k": "a+b/c=d &"}, "k=a%2Bb%2Fc%3Dd%20%26"},
		{"dotted key", map[string]string{"RawMessage.Data": "x", "Action": "SendRawEmail"}, "Action=SendRawEmail&RawMessage.Data=x"},
		{"utf8", map[string]string{"k": "é"}, "k=%C3%A9"},
		{"empty", map[string]string{}, ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := BuildQuery(tc.params); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestSendRawMessage(t *testing.T) {
	var gotForm url.Values
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotForm, _ = url.ParseQuery(string(b))
		gotHeader = r.Header.Clone()
		_, _ = io.WriteString(w, `<SendRawEmailResponse><SendRawEmailResult><MessageId>abc</MessageId></SendRawEmailResult></SendRawEmailResponse>`)
	}))
	defer srv.Close()

	c := New(Static(testCreds()), WithEndpoint(srv.URL), WithClock(fixedNow))
	raw := []byte("Subject: hi\r\n\r\nbody")
	if err := c.SendRawMessage(context.Background(), raw); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotForm.Get("Action") != "SendRawEmail" || gotForm.Get("Version") != APIVersion {
		t.Fatalf("form=%v", gotForm)
	}
	data, err := base64.StdEncoding.DecodeString(gotForm.Get("RawMessage.Data"))
	if err != nil || string(data) != string(raw) {
		t.Fatalf("raw data=%q err=%v", data, err)
	}
	if gotHeader.Get("Content-Type") != ContentType {
		t.Fatalf("content-type=%q", gotHeader.Get("Content-Type"))
	}
	if gotHeader.Get("X-Amz-Date") != "20240102T030405Z" {
		t.Fatalf("x-amz-date=%q", gotHeader.Get("X-Amz-Date"))
	}
	if !strings.HasPrefix(gotHeader.Get("Authorization"), "AWS4-HMAC-SHA256 Credential=AKID/20240102/us-east-1/ses/aws4_request") {
		t.Fatalf("authorization=%q", gotHeader.Get("Authorization"))
	}
	if gotHeader.Get("X-Amz-Content-Sha256") == "" {
		t.Fatalf("missing payload hash header")
	}
}

func TestSendRawMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "<ErrorResponse>denied</ErrorResponse>")
	}))
	defer srv.Close()

	err := New(Static(testCreds()), WithEndpoint(srv.URL)).SendRawMessage(context.Background(), []byte("x"))
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("err=%v", err)
	}
	if se.Kind != KindAPIError || se.Status != 403 || !strings.Contains(se.Body, "denied") {
		t.Fatalf("got %+v", se)
	}
	if Code(err) != "ses_api_error" || !LooksMisconfigured(err) {
		t.Fatalf("code=%s misconfigured=%v", Code(err), LooksMisconfigured(err))
	}
}

func TestPreconditions(t *testing.T) {
	t.Parallel()

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	cases := []struct {
		name  string
		creds CredentialsProvider
		kind  Kind
	}{
		{"no keys", Static(credentials.Credentials{Region: "us-east-1"}), KindCredentialsMissing},
		{"no secret", Static(credentials.Credentials{AccessKey: "a", Region: "us-east-1"}), KindCredentialsMissing},
		{"provider error", func(context.Context) (credentials.Credentials, error) {
			return testCreds(), errors.New("boom")
		}, KindCredentialsMissing},
		{"no region", Static(credentials.Credentials{AccessKey: "a", SecretKey: "b"}), KindRegionInvalid},
	}
	for _, tc := range cases {
		c := New(tc.creds, WithEndpoint(srv.URL))
		if err := c.SendRawMessage(context.Background(), []byte("x")); !IsKind(err, tc.kind) {
			t.Fatalf("%s: send err=%v", tc.name, err)
		}
		if _, err := c.GetSendQuota(context.Background()); !IsKind(err, tc.kind) {
			t.Fatalf("%s: quota err=%v", tc.name, err)
		}
	}
	if called {
		t.Fatalf("no request should reach the API when preconditions fail")
	}
}

func TestGetSendQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<?xml version="1.0"?>
<GetSendQuotaResponse xmlns="http://ses.amazonaws.com/doc/2010-12-01/">
  <GetSendQuotaResult>
    <SentLast24Hours>12.0</SentLast24Hours>
    <Max24HourSend>200.0</Max24HourSend>
    <MaxSendRate>1.0</MaxSendRate>
  </GetSendQuotaResult>
</GetSendQuotaResponse>`)
	}))
	defer srv.Close()

	q, err := New(Static(testCreds()), WithEndpoint(srv.URL)).GetSendQuota(context.Background())
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if q.Max24HourSend.String() != "200" || q.MaxSendRate.String() != "1" || q.SentLast24Hours.String() != "12" {
		t.Fatalf("quota=%+v", q)
	}
	if q.Remaining().String() != "188" {
		t.Fatalf("remaining=%s", q.Remaining())
	}
}

func TestGetSendQuotaParseErrors(t *testing.T) {
	t.Parallel()

	for _, body := range []string{
		"not xml <",
		"<GetSendQuotaResponse><Other/></GetSendQuotaResponse>",
		"<GetSendQuotaResponse><GetSendQuotaResult><MaxSendRate>fast</MaxSendRate></GetSendQuotaResult></GetSendQuotaResponse>",
	} {
		body := body
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, body)
		}))
		_, err := New(Static(testCreds()), WithEndpoint(srv.URL)).GetSendQuota(context.Background())
		srv.Close()
		if !IsKind(err, KindParseError) {
			t.Fatalf("body %q: err=%v", body, err)
		}
		if Code(err) != "ses_parse_error" {
			t.Fatalf("code=%s", Code(err))
		}
	}
}

func TestTransportErrorIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	err := New(Static(testCreds()), WithEndpoint(addr), WithTimeout(time.Second)).SendRawMessage(context.Background(), []byte("x"))
	if !IsKind(err, KindUnknown) || Code(err) != "ses_unknown" {
		t.Fatalf("err=%v code=%s", err, Code(err))
	}
}
