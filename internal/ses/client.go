// Package ses is a minimal client for the Amazon SES Query API
// (SendRawEmail and GetSendQuota) signed with SigV4.
package ses

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"sesmailer/internal/credentials"
	"sesmailer/internal/sigv4"
	logx "sesmailer/pkg/logx"
)

const (
	APIVersion     = "2010-12-01"
	Service        = "ses"
	ContentType    = "application/x-www-form-urlencoded; charset=utf-8"
	DefaultTimeout = 30 * time.Second
)

// CredentialsProvider returns the credentials for the next call. A non-nil
// error is treated as missing credentials.
type CredentialsProvider func(ctx context.Context) (credentials.Credentials, error)

// Static returns a provider that always yields c.
func Static(c credentials.Credentials) CredentialsProvider {
	return func(context.Context) (credentials.Credentials, error) { return c, nil }
}

// Quota is the account's sending quota.
type Quota struct {
	Max24HourSend   decimal.Decimal `json:"max_24_hour_send"`
	MaxSendRate     decimal.Decimal `json:"max_send_rate"`
	SentLast24Hours decimal.Decimal `json:"sent_last_24_hours"`
}

// Remaining returns how many messages can still be sent in the 24h window.
func (q Quota) Remaining() decimal.Decimal {
	r := q.Max24HourSend.Sub(q.SentLast24Hours)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

type Option func(*Client)

// WithEndpoint sends every request to base instead of the regional endpoint.
// The signature still uses the configured region.
func WithEndpoint(base string) Option {
	return func(c *Client) { c.endpoint = strings.TrimRight(base, "/") }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client calls SES. It performs exactly one HTTP request per call and never
// retries.
type Client struct {
	creds    CredentialsProvider
	http     *resty.Client
	endpoint string
	now      func() time.Time
	log      logx.Logger
}

func New(creds CredentialsProvider, opts ...Option) *Client {
	c := &Client{
		creds: creds,
		http: resty.New().
			SetTimeout(DefaultTimeout).
			SetRetryCount(0).
			SetHeader("User-Agent", "sesmailer"),
		now: time.Now,
		log: logx.Nop(),
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	return c
}

// SendRawMessage sends a complete MIME document.
func (c *Client) SendRawMessage(ctx context.Context, raw []byte) error {
	status, body, err := c.call(ctx, map[string]string{
		"Action":          "SendRawEmail",
		"Version":         APIVersion,
		"RawMessage.Data": base64.StdEncoding.EncodeToString(raw),
	})
	if err != nil {
		return err
	}
	if status != 200 {
		return &Error{Kind: KindAPIError, Status: status, Body: body}
	}
	if id := messageID(body); id != "" {
		c.log.Debug("ses accepted message", logx.String("message_id", id), logx.Int("bytes", len(raw)))
	}
	return nil
}

// GetSendQuota fetches the account's sending limits.
func (c *Client) GetSendQuota(ctx context.Context) (Quota, error) {
	status, body, err := c.call(ctx, map[string]string{
		"Action":  "GetSendQuota",
		"Version": APIVersion,
	})
	if err != nil {
		return Quota{}, err
	}
	if status != 200 {
		return Quota{}, &Error{Kind: KindAPIError, Status: status, Body: body}
	}
	return parseQuota(body)
}

func (c *Client) call(ctx context.Context, params map[string]string) (int, string, error) {
	var creds credentials.Credentials
	var credErr error
	if c.creds != nil {
		creds, credErr = c.creds(ctx)
	}
	if credErr != nil || !creds.HasKeys() {
		return 0, "", &Error{Kind: KindCredentialsMissing, Err: credErr}
	}
	if creds.Endpoint() == "" {
		return 0, "", &Error{Kind: KindRegionInvalid}
	}

	endpoint := creds.Endpoint()
	host := creds.Host()
	if c.endpoint != "" {
		u, err := url.Parse(c.endpoint)
		if err != nil {
			return 0, "", &Error{Kind: KindUnknown, Err: fmt.Errorf("endpoint: %w", err)}
		}
		endpoint, host = c.endpoint, u.Host
	}

	body := []byte(BuildQuery(params))
	signed := sigv4.Sign(creds, Service, sigv4.Request{
		Method:      "POST",
		Host:        host,
		URI:         "/",
		ContentType: ContentType,
		Body:        body,
		Time:        c.now(),
	})

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(signed.Headers(ContentType)).
		SetBody(body).
		Post(endpoint + "/")
	if err != nil {
		return 0, "", &Error{Kind: KindUnknown, Err: err}
	}

	c.log.Debug("ses call",
		logx.String("action", params["Action"]),
		logx.String("region", creds.Region),
		logx.Int("status", resp.StatusCode()),
		logx.Duration("took", resp.Time()),
	)
	return resp.StatusCode(), string(resp.Body()), nil
}

type quotaEnvelope struct {
	Result *struct {
		Max24HourSend   string `xml:"Max24HourSend"`
		MaxSendRate     string `xml:"MaxSendRate"`
		SentLast24Hours string `xml:"SentLast24Hours"`
	} `xml:"GetSendQuotaResult"`
}

func parseQuota(body string) (Quota, error) {
	var env quotaEnvelope
	if err := xml.Unmarshal([]byte(body), &env); err != nil {
		return Quota{}, &Error{Kind: KindParseError, Body: body, Err: err}
	}
	if env.Result == nil {
		return Quota{}, &Error{Kind: KindParseError, Body: body, Err: fmt.Errorf("GetSendQuotaResult missing")}
	}

	var q Quota
	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{env.Result.Max24HourSend, &q.Max24HourSend},
		{env.Result.MaxSendRate, &q.MaxSendRate},
		{env.Result.SentLast24Hours, &q.SentLast24Hours},
	} {
		s := strings.TrimSpace(f.raw)
		if s == "" {
			continue
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Quota{}, &Error{Kind: KindParseError, Body: body, Err: err}
		}
		*f.dst = d
	}
	return q, nil
}

func messageID(body string) string {
	var env struct {
		MessageID string `xml:"SendRawEmailResult>MessageId"`
	}
	if err := xml.Unmarshal([]byte(body), &env); err != nil {
		return ""
	}
	return env.MessageID
}
