// Package cfg holds the process configuration. Every field is a flag;
// FillFromEnv lets CDNINV_* environment variables supply flags not passed
// on the command line.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/log"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/settings"
)

// EnvPrefix is prepended to the upper-cased flag name: -dry-run reads
// CDNINV_DRY_RUN.
const EnvPrefix = "CDNINV_"

type App struct {
	// logging
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// listeners
	HTTPPort       int
	AdminPort      int
	EnablePprof    bool
	ShutdownDrain  time.Duration
	TrustedHops    int
	RateLimitRPS   float64
	RateLimitBurst int

	// telemetry
	EnableTracing   bool
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string

	// invalidation
	DryRun           bool
	DistributionID   string
	CloudFrontRegion string
	DispatchTimeout  time.Duration

	// settings
	SettingsSource       string
	SettingsPollInterval time.Duration
	ExcludeContentTypes  string
	CommonPaths          string

	// webhook authentication, at most one
	WebhookSecret    string
	WebhookKMSKeyARN string
}

// Register binds all config fields to fs with their defaults.
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "webhook listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.DurationVar(&c.ShutdownDrain, "shutdown-drain", 20*time.Second, "how long to drain in-flight webhooks on shutdown")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "reverse proxies in front of the service whose X-Forwarded-For is trusted (0..10)")
	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 5, "per-client requests per second for unsigned or failed-signature webhook traffic; 0 disables")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 20, "per-client webhook burst")

	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", true, "use plaintext gRPC to the OTLP endpoint (local collector)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")

	fs.BoolVar(&c.DryRun, "dry-run", false, "log invalidations instead of sending them to CloudFront")
	fs.StringVar(&c.DistributionID, "distribution-id", "", "CloudFront distribution id (required unless -dry-run)")
	fs.StringVar(&c.CloudFrontRegion, "cloudfront-region", "us-east-1", "region for the CloudFront API endpoint")
	fs.DurationVar(&c.DispatchTimeout, "dispatch-timeout", 5*time.Second, "timeout for one CreateInvalidation call")

	fs.StringVar(&c.SettingsSource, "settings-source", "", "settings document: path, file://path, ssm:/param/name or s3://bucket/key")
	fs.DurationVar(&c.SettingsPollInterval, "settings-poll-interval", settings.DefaultPollInterval, "how often to re-read the settings source")
	fs.StringVar(&c.ExcludeContentTypes, "exclude-content-types", "", "comma separated globs of content types never registered for REST completion")
	fs.StringVar(&c.CommonPaths, "common-paths", "", "comma separated path templates added to every invalidation, e.g. /,/feed/")

	fs.StringVar(&c.WebhookSecret, "webhook-secret", "", "shared HMAC-SHA256 secret for X-Webhook-Signature")
	fs.StringVar(&c.WebhookKMSKeyARN, "webhook-kms-key-arn", "", "KMS HMAC key ARN for X-Webhook-Signature")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default. Values of secret flags are
// never passed to logf.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		shown := func(v string) string {
			if isSecret(f.Name) && v != "" {
				return "[redacted]"
			}
			return v
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, shown(f.Value.String()), key, shown(envVal))
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q", f.Name, key, shown(envVal))
			}
		}
	})
}

func isSecret(name string) bool { return strings.Contains(name, "secret") }

// SplitList splits a comma separated flag value, trimming blanks.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks every field and returns all problems joined, or nil.
func Validate(c App) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		add("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort)
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		add("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort)
	}
	if c.AdminPort == c.HTTPPort {
		add("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort)
	}
	if c.ShutdownDrain < 0 {
		add("SHUTDOWN_DRAIN must not be negative (got %s)", c.ShutdownDrain)
	}
	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		add("TRUSTED_HOPS must be 0..10 (got %d)", c.TrustedHops)
	}
	if c.RateLimitRPS < 0 {
		add("RATE_LIMIT_RPS must not be negative (got %g)", c.RateLimitRPS)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		add("RATE_LIMIT_BURST must be >= 1 (got %d)", c.RateLimitBurst)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		add("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks)
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		add("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample)
	}
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			add("OTLP_ENDPOINT required when ENABLE_TRACING=true")
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			add("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err)
		}
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			add("PYRO_SERVER required when ENABLE_PYROSCOPE=true")
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			add("PYRO_SERVER must be a URL (got %q)", c.PyroServer)
		}
		if c.PyroTenantID == "" {
			add("PYRO_TENANT required when ENABLE_PYROSCOPE=true")
		}
	}

	if !c.DryRun && strings.TrimSpace(c.DistributionID) == "" {
		add("DISTRIBUTION_ID required unless DRY_RUN=true")
	}
	if c.DispatchTimeout <= 0 || c.DispatchTimeout > time.Minute {
		add("DISPATCH_TIMEOUT must be in (0, 1m] (got %s)", c.DispatchTimeout)
	}
	if strings.TrimSpace(c.CloudFrontRegion) == "" {
		add("CLOUDFRONT_REGION must not be empty")
	}

	if strings.TrimSpace(c.SettingsSource) == "" {
		add("SETTINGS_SOURCE is required")
	} else if _, err := settings.NewSource(c.SettingsSource, settings.Clients{}); err != nil && !settings.IsRemote(c.SettingsSource) {
		add("invalid SETTINGS_SOURCE: %v", err)
	}
	if c.SettingsPollInterval < time.Second {
		add("SETTINGS_POLL_INTERVAL must be >= 1s (got %s)", c.SettingsPollInterval)
	}
	if _, err := settings.NewRegistration(SplitList(c.ExcludeContentTypes)); err != nil {
		add("invalid EXCLUDE_CONTENT_TYPES: %v", err)
	}

	if c.WebhookSecret != "" && c.WebhookKMSKeyARN != "" {
		add("WEBHOOK_SECRET and WEBHOOK_KMS_KEY_ARN are mutually exclusive")
	}
	if c.WebhookKMSKeyARN != "" && !strings.HasPrefix(c.WebhookKMSKeyARN, "arn:") {
		add("WEBHOOK_KMS_KEY_ARN must be an ARN (got %q)", c.WebhookKMSKeyARN)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
