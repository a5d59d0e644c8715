package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sesmailer/internal/app"
	"sesmailer/internal/ses"
)

const quotaXML = `<GetSendQuotaResponse><GetSendQuotaResult>
<Max24HourSend>200.0</Max24HourSend><MaxSendRate>1.0</MaxSendRate><SentLast24Hours>50.0</SentLast24Hours>
</GetSendQuotaResult></GetSendQuotaResponse>`

func sesDouble(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(b))
		switch form.Get("Action") {
		case "GetSendQuota":
			_, _ = io.WriteString(w, quotaXML)
		default:
			_, _ = io.WriteString(w, "<SendRawEmailResponse><SendRawEmailResult><MessageId>m-1</MessageId></SendRawEmailResult></SendRawEmailResponse>")
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func configFile(t *testing.T, background bool) string {
	t.Helper()
	dir := t.TempDir()
	bg := "false"
	if background {
		bg = "true"
	}
	body := `{
  "mailer": {
    "enable_mailer": true,
    "region": "us-east-1",
    "access_key": "AKID",
    "secret_key": "secret",
    "from_email": "noreply@example.com",
    "rate_limit": 0,
    "background_send": ` + bg + `
  },
  "logging": { "level": "error" },
  "mail_log": { "path": "` + filepath.ToSlash(filepath.Join(dir, "mail.log")) + `" },
  "storage": { "driver": "file", "path": "` + filepath.ToSlash(filepath.Join(dir, "store")) + `" },
  "http": { "enabled": false }
}`
	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func run(t *testing.T, endpoint string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(app.WithSESOptions(ses.WithEndpoint(endpoint)))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestQuotaCommand(t *testing.T) {
	srv := sesDouble(t)
	out, err := run(t, srv.URL, "--config", configFile(t, false), "quota")
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	for _, want := range []string{"Max24HourSend:   200", "SentLast24Hours: 50", "Remaining:       150"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestSendThenLogThenClear(t *testing.T) {
	srv := sesDouble(t)
	cfg := configFile(t, false)

	out, err := run(t, srv.URL, "--config", cfg, "send", "--to", "a@example.com", "--subject", "Hi", "--body", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.HasPrefix(out, "sent (") {
		t.Fatalf("out=%q", out)
	}

	out, err = run(t, srv.URL, "--config", cfg, "log")
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if !strings.Contains(out, `SUCCESS to=a@example.com subject="Hi"`) {
		t.Fatalf("log=%q", out)
	}

	if _, err := run(t, srv.URL, "--config", cfg, "log", "clear"); err != nil {
		t.Fatalf("log clear: %v", err)
	}
	out, err = run(t, srv.URL, "--config", cfg, "log")
	if err != nil || out != "" {
		t.Fatalf("after clear out=%q err=%v", out, err)
	}
}

func TestSendQueuedShowsInJobs(t *testing.T) {
	srv := sesDouble(t)
	cfg := configFile(t, true)

	out, err := run(t, srv.URL, "--config", cfg, "send", "--to", "a@example.com", "--subject", "Queued", "--body", "x")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.HasPrefix(out, "queued job ") {
		t.Fatalf("out=%q", out)
	}
	id := strings.TrimSpace(strings.TrimPrefix(out, "queued job "))

	out, err = run(t, srv.URL, "--config", cfg, "jobs")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "Queued") {
		t.Fatalf("jobs=%q", out)
	}
}

func TestSendRejectsMissingRecipient(t *testing.T) {
	srv := sesDouble(t)
	if _, err := run(t, srv.URL, "--config", configFile(t, false), "send", "--to", "not-an-address", "--body", "x"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSendOptionsBodyFromStdin(t *testing.T) {
	o := &sendOptions{to: []string{"a@example.com"}, bodyFile: "-"}
	msg, err := o.message(strings.NewReader("from stdin"))
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if msg.Body != "from stdin" {
		t.Fatalf("body=%q", msg.Body)
	}
}

func TestServeStopsOnSignal(t *testing.T) {
	srv := sesDouble(t)
	ro := &rootOptions{
		configPath: configFile(t, true),
		appOpts:    []app.Option{app.WithSESOptions(ses.WithEndpoint(srv.URL))},
	}
	sigCh := make(chan os.Signal, 1)
	sigCh <- os.Interrupt

	done := make(chan error, 1)
	go func() { done <- serve(context.Background(), ro, sigCh) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
