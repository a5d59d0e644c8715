package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"sesmailer/internal/config"
	logx "sesmailer/pkg/logx"
)

const (
	SourceConfig = "config"
	SourceEnv    = "env"
	SourceSDK    = "sdk"
)

// Environment variables read by the env source.
const (
	EnvAccessKey    = "SES_MAILER_ACCESS_KEY"
	EnvSecretKey    = "SES_MAILER_SECRET_KEY"
	EnvRegion       = "SES_MAILER_REGION"
	EnvSessionToken = "SES_MAILER_SESSION_TOKEN"
)

var ErrUnknownSource = errors.New("credentials: unknown source")

// SDKLoader resolves credentials through the AWS SDK default chain.
// region may be empty, in which case the SDK's own region is used.
type SDKLoader func(ctx context.Context, region string) (Credentials, error)

type Option func(*Resolver)

// WithGetenv overrides the environment lookup (tests).
func WithGetenv(fn func(string) string) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.getenv = fn
		}
	}
}

// WithSDKLoader overrides the AWS SDK default chain loader (tests).
func WithSDKLoader(fn SDKLoader) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.loadSDK = fn
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// Resolver turns a settings snapshot into normalized credentials.
type Resolver struct {
	getenv  func(string) string
	loadSDK SDKLoader
	log     logx.Logger
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{getenv: os.Getenv, log: logx.Nop()}
	sdk := &sdkCache{byRegion: map[string]*awsEntry{}}
	r.loadSDK = sdk.load
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// Resolve returns credentials for s. The result is always normalized; a
// non-nil error means the source itself failed (e.g. the SDK chain found no
// credentials) and the returned value carries whatever could be resolved.
func (r *Resolver) Resolve(ctx context.Context, s config.Settings) (Credentials, error) {
	var c Credentials
	switch s.CredentialsSource {
	case "", SourceConfig:
		c = Credentials{AccessKey: s.AccessKey, SecretKey: s.SecretKey, Region: s.Region}
	case SourceEnv:
		c = Credentials{
			AccessKey:    r.getenv(EnvAccessKey),
			SecretKey:    r.getenv(EnvSecretKey),
			SessionToken: r.getenv(EnvSessionToken),
			Region:       r.getenv(EnvRegion),
		}
	case SourceSDK:
		region := stripSpace(s.Region)
		got, err := r.loadSDK(ctx, region)
		if err != nil {
			r.log.Debug("sdk credentials unavailable", logx.String("region", region), logx.Err(err))
			return normalize(Credentials{Region: region}), fmt.Errorf("sdk credentials: %w", err)
		}
		c = got
		if region != "" {
			c.Region = region
		}
	default:
		return Credentials{}, fmt.Errorf("%w %q", ErrUnknownSource, s.CredentialsSource)
	}
	c = normalize(c)
	r.log.Debug("credentials resolved",
		logx.String("source", s.CredentialsSource),
		logx.String("region", c.Region),
		logx.Redact("access_key", c.AccessKey),
		logx.Bool("session_token", c.SessionToken != ""),
	)
	return c, nil
}

// Provider binds a resolver to a settings accessor so each call sees the
// latest config.
func (r *Resolver) Provider(settings func() config.Settings) func(ctx context.Context) (Credentials, error) {
	return func(ctx context.Context) (Credentials, error) {
		return r.Resolve(ctx, settings())
	}
}

type awsEntry struct {
	once sync.Once
	cfg  awsLoaded
	err  error
}

type awsLoaded struct {
	region   string
	retrieve func(ctx context.Context) (Credentials, error)
}

// sdkCache keeps one loaded SDK config per region; the SDK caches and
// refreshes the underlying credentials itself.
type sdkCache struct {
	mu       sync.Mutex
	byRegion map[string]*awsEntry
}

func (c *sdkCache) load(ctx context.Context, region string) (Credentials, error) {
	c.mu.Lock()
	e := c.byRegion[region]
	if e == nil {
		e = &awsEntry{}
		c.byRegion[region] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		var opts []func(*awsconfig.LoadOptions) error
		if region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			e.err = err
			return
		}
		if cfg.Credentials == nil {
			e.err = errors.New("no credentials provider configured")
			return
		}
		provider := cfg.Credentials
		e.cfg = awsLoaded{
			region: cfg.Region,
			retrieve: func(ctx context.Context) (Credentials, error) {
				v, err := provider.Retrieve(ctx)
				if err != nil {
					return Credentials{}, err
				}
				return Credentials{
					AccessKey:    v.AccessKeyID,
					SecretKey:    v.SecretAccessKey,
					SessionToken: v.SessionToken,
				}, nil
			},
		}
	})
	if e.err != nil {
		// allow a later retry (e.g. env fixed after startup)
		c.mu.Lock()
		if c.byRegion[region] == e {
			delete(c.byRegion, region)
		}
		c.mu.Unlock()
		return Credentials{}, e.err
	}
	out, err := e.cfg.retrieve(ctx)
	if err != nil {
		return Credentials{}, err
	}
	out.Region = e.cfg.region
	return out, nil
}
