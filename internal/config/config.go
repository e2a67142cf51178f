package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/flowpbx/gatebridge/internal/callers"
	"github.com/flowpbx/gatebridge/internal/ipacl"
	"github.com/flowpbx/gatebridge/internal/twilio"
	"github.com/flowpbx/gatebridge/internal/unifi"
)

// Config holds all runtime configuration for the gatebridge webhook server.
// It is built once at startup and never modified afterwards.
// Precedence: CLI flags > env vars (including the env file) > defaults.
type Config struct {
	EnvFile string

	UnifiHost           string
	UnifiPort           int
	UnifiToken          string
	UnifiTimeoutSeconds float64
	UnifiInsecureTLS    bool

	DoorName  string
	ActorID   string
	ActorName string

	BindHost string
	BindPort int

	AllowedCallersFile string
	TwilioAuthToken    string
	PublicBaseURL      string // scheme://host[/prefix], no trailing slash
	TTSVoice           string

	DashboardCIDRs       string
	DashboardPrefixes    []netip.Prefix // parsed from DashboardCIDRs by validate
	DashboardRecentLimit int

	LedgerPath        string // SQLite file path or postgres:// URL
	TrustProxyHeaders bool   // honour X-Forwarded-For / X-Real-IP

	LogLevel  string
	LogFormat string // log output format: "text" or "json"
}

// defaults
const (
	defaultUnifiPort            = unifi.DefaultPort
	defaultUnifiTimeout         = 5.0
	defaultDoorName             = "Gate"
	defaultActorID              = "phone-gate-bridge"
	defaultActorName            = "Phone Gate Bridge"
	defaultBindHost             = "127.0.0.1"
	defaultBindPort             = 8080
	defaultAllowedCallersFile   = "/etc/phone-gate-bridge/allowed-callers.toml"
	defaultDashboardCIDRs       = "127.0.0.1/32,::1/128"
	defaultDashboardRecentLimit = 50
	defaultLedgerPath           = "/var/lib/phone-gate-bridge/activity.db"
	defaultLogLevel             = "info"
	defaultLogFormat            = "json"
)

// envFileVar names the variable that points at an optional dotenv file.
const envFileVar = "GATEBRIDGE_ENV_FILE"

// envBindings maps each flag to the environment variable that can set it.
var envBindings = map[string]string{
	"unifi-host":             "UNIFI_HOST",
	"unifi-port":             "UNIFI_ACCESS_PORT",
	"unifi-token":            "UNIFI_ACCESS_API_TOKEN",
	"unifi-timeout":          "UNIFI_TIMEOUT_SECONDS",
	"unifi-insecure-tls":     "UNIFI_INSECURE_TLS",
	"door-name":              "UNIFI_DOOR_NAME",
	"actor-id":               "UNIFI_ACTOR_ID",
	"actor-name":             "UNIFI_ACTOR_NAME",
	"bind-host":              "WEBHOOK_BIND_HOST",
	"bind-port":              "WEBHOOK_BIND_PORT",
	"allowed-callers-file":   "ALLOWED_CALLERS_FILE",
	"twilio-auth-token":      "TWILIO_AUTH_TOKEN",
	"public-base-url":        "PUBLIC_BASE_URL",
	"tts-voice":              "TWILIO_TTS_VOICE",
	"dashboard-cidrs":        "DASHBOARD_ALLOWED_CIDRS",
	"dashboard-recent-limit": "DASHBOARD_RECENT_LIMIT",
	"ledger-path":            "ACTIVITY_DB_PATH",
	"trust-proxy-headers":    "WEBHOOK_TRUST_PROXY_HEADERS",
	"log-level":              "LOG_LEVEL",
	"log-format":             "LOG_FORMAT",
}

// Load parses configuration from args (normally os.Args[1:]), the optional
// env file and environment variables, then validates it.
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("gatebridge", flag.ContinueOnError)

	fs.StringVar(&cfg.EnvFile, "env-file", "", "dotenv file to load before reading the environment (env: "+envFileVar+")")
	fs.StringVar(&cfg.UnifiHost, "unifi-host", "", "UniFi Access controller host or IP")
	fs.IntVar(&cfg.UnifiPort, "unifi-port", defaultUnifiPort, "UniFi Access developer API port")
	fs.StringVar(&cfg.UnifiToken, "unifi-token", "", "UniFi Access developer API token")
	fs.Float64Var(&cfg.UnifiTimeoutSeconds, "unifi-timeout", defaultUnifiTimeout, "timeout in seconds for each Access API call")
	fs.BoolVar(&cfg.UnifiInsecureTLS, "unifi-insecure-tls", false, "disable TLS certificate verification for the Access API")
	fs.StringVar(&cfg.DoorName, "door-name", defaultDoorName, "name of the door to unlock")
	fs.StringVar(&cfg.ActorID, "actor-id", defaultActorID, "actor id reported to the controller")
	fs.StringVar(&cfg.ActorName, "actor-name", defaultActorName, "actor name reported to the controller")
	fs.StringVar(&cfg.BindHost, "bind-host", defaultBindHost, "webhook listen address")
	fs.IntVar(&cfg.BindPort, "bind-port", defaultBindPort, "webhook listen port")
	fs.StringVar(&cfg.AllowedCallersFile, "allowed-callers-file", defaultAllowedCallersFile, "allow-list of caller numbers (.toml, .yaml)")
	fs.StringVar(&cfg.TwilioAuthToken, "twilio-auth-token", "", "Twilio auth token used to verify webhook signatures")
	fs.StringVar(&cfg.PublicBaseURL, "public-base-url", "", "externally visible base URL of this service, as configured at Twilio")
	fs.StringVar(&cfg.TTSVoice, "tts-voice", twilio.DefaultVoice, "text-to-speech voice for spoken prompts")
	fs.StringVar(&cfg.DashboardCIDRs, "dashboard-cidrs", defaultDashboardCIDRs, "comma-separated CIDRs allowed to view the dashboard")
	fs.IntVar(&cfg.DashboardRecentLimit, "dashboard-recent-limit", defaultDashboardRecentLimit, "number of recent events shown on the dashboard")
	fs.StringVar(&cfg.LedgerPath, "ledger-path", defaultLedgerPath, "activity ledger SQLite path or postgres:// URL")
	fs.BoolVar(&cfg.TrustProxyHeaders, "trust-proxy-headers", false, "take the client address from X-Forwarded-For / X-Real-IP; without it, requests relayed by a reverse proxy carry the proxy's address, so they share one rate-limit bucket and match the dashboard CIDRs as the proxy")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	if cfg.EnvFile == "" {
		cfg.EnvFile = os.Getenv(envFileVar)
	}
	if cfg.EnvFile != "" {
		// godotenv never overrides variables already present.
		if err := godotenv.Load(cfg.EnvFile); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", cfg.EnvFile, err)
		}
	}

	if err := applyEnvOverrides(fs); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides sets every flag that was not given on the command line
// from its environment variable, if present. Values are parsed by the flag
// itself, so a malformed number is reported rather than ignored.
func applyEnvOverrides(fs *flag.FlagSet) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	for flagName, envVar := range envBindings {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		val = strings.TrimSpace(val)
		if !ok || val == "" {
			continue
		}
		if isBoolFlag(fs, flagName) {
			val = normalizeBool(val)
		}
		if err := fs.Set(flagName, val); err != nil {
			return fmt.Errorf("invalid %s value %q: %w", envVar, val, err)
		}
	}
	return nil
}

func isBoolFlag(fs *flag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	if f == nil {
		return false
	}
	bf, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && bf.IsBoolFlag()
}

// normalizeBool accepts yes/no and on/off alongside strconv.ParseBool forms.
func normalizeBool(v string) string {
	switch strings.ToLower(v) {
	case "yes", "y", "on":
		return "true"
	case "no", "n", "off":
		return "false"
	}
	return v
}

// validate checks that the config values are sane and derives the parsed
// fields.
func (c *Config) validate() error {
	required := []struct {
		value, flag string
	}{
		{c.UnifiHost, "unifi-host"},
		{c.UnifiToken, "unifi-token"},
		{c.TwilioAuthToken, "twilio-auth-token"},
		{c.PublicBaseURL, "public-base-url"},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s is required (--%s)", envBindings[r.flag], r.flag)
		}
	}

	if c.UnifiPort < 1 || c.UnifiPort > 65535 {
		return fmt.Errorf("unifi-port must be between 1 and 65535, got %d", c.UnifiPort)
	}
	if c.BindPort < 1 || c.BindPort > 65535 {
		return fmt.Errorf("bind-port must be between 1 and 65535, got %d", c.BindPort)
	}
	if c.UnifiTimeoutSeconds <= 0 {
		return fmt.Errorf("unifi-timeout must be positive, got %v", c.UnifiTimeoutSeconds)
	}

	base, err := url.Parse(strings.TrimSpace(c.PublicBaseURL))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return fmt.Errorf("public-base-url must be an absolute http(s) URL, got %q", c.PublicBaseURL)
	}
	if base.RawQuery != "" || base.Fragment != "" {
		return fmt.Errorf("public-base-url must not carry a query or fragment, got %q", c.PublicBaseURL)
	}
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")

	if strings.TrimSpace(c.DoorName) == "" {
		return fmt.Errorf("door-name must not be empty")
	}
	if (c.ActorID == "") != (c.ActorName == "") {
		return fmt.Errorf("actor-id and actor-name must both be provided or both be omitted")
	}
	if strings.TrimSpace(c.TTSVoice) == "" {
		c.TTSVoice = twilio.DefaultVoice
	}

	if _, err := callers.Load(c.AllowedCallersFile); err != nil {
		return err
	}

	prefixes, err := ipacl.ParsePrefixes(ipacl.SplitList(c.DashboardCIDRs))
	if err != nil {
		return err
	}
	c.DashboardPrefixes = prefixes

	if c.DashboardRecentLimit < 1 {
		return fmt.Errorf("dashboard-recent-limit must be at least 1, got %d", c.DashboardRecentLimit)
	}
	if strings.TrimSpace(c.LedgerPath) == "" {
		return fmt.Errorf("ledger-path must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// Warnings describes settings that are valid but likely unsafe behind a
// local reverse proxy. The caller logs them at startup.
func (c *Config) Warnings() []string {
	if c.TrustProxyHeaders {
		return nil
	}
	var out []string
	for _, p := range c.DashboardPrefixes {
		if p.Contains(loopbackV4) || p.Contains(loopbackV6) {
			out = append(out, fmt.Sprintf("dashboard-cidrs includes loopback (%s) while proxy headers are not trusted: "+
				"every request relayed by a local reverse proxy passes the dashboard guard; "+
				"set --trust-proxy-headers or drop loopback from --dashboard-cidrs", p))
			break
		}
	}
	if addr, err := netip.ParseAddr(c.BindHost); err == nil && addr.IsLoopback() {
		out = append(out, "webhook listens on loopback while proxy headers are not trusted: "+
			"requests relayed by a local reverse proxy share one rate-limit bucket")
	}
	return out
}

var (
	loopbackV4 = netip.MustParseAddr("127.0.0.1")
	loopbackV6 = netip.IPv6Loopback()
)

// ListenAddr returns the host:port the webhook server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindHost, strconv.Itoa(c.BindPort))
}

// UnifiTimeout returns the per-call Access API timeout.
func (c *Config) UnifiTimeout() time.Duration {
	return time.Duration(c.UnifiTimeoutSeconds * float64(time.Second))
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
