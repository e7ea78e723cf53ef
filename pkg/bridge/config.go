package bridge

import (
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Config configures a Bridge. Zero values are replaced by withDefaults.
type Config struct {
	// Host is the controller address, either host:port or a base URL.
	Host string

	PollInterval        time.Duration
	FullRefreshInterval time.Duration
	RequestTimeout      time.Duration

	// UseStreaming connects to the controller websocket and suppresses polls
	// while it's connected. WatchdogInterval is how often the stream is
	// checked.
	UseStreaming     bool
	WatchdogInterval time.Duration
	StaleAfter       time.Duration

	// IncludeNamePrefix prefixes display names with NamePrefix.
	IncludeNamePrefix bool
	NamePrefix        string

	// Tariffs lists the tariff endpoint keys the host wants, e.g. grid or
	// solar.
	Tariffs []string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.FullRefreshInterval <= 0 {
		c.FullRefreshInterval = 5 * time.Minute
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 20 * time.Second
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 30 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 4 * c.WatchdogInterval
	}
	if c.NamePrefix == "" {
		c.NamePrefix = "evcc"
	}
	return c
}

// Prefix returns the display name prefix, or an empty string if disabled.
func (c Config) Prefix() string {
	if !c.IncludeNamePrefix {
		return ""
	}
	return c.withDefaults().NamePrefix
}

// Configured registers the bridge flags and returns the Config they fill in
// once lflag.Configure has run.
func Configured() *Config {
	cfg := &Config{}

	host := lflag.RequiredString("evcc-host", "Address of the evcc controller (e.g. evcc.local:7070)")
	pollInterval := lflag.Duration("evcc-poll-interval", 30*time.Second, "How often to poll the controller")
	fullRefresh := lflag.Duration("evcc-full-refresh-interval", 5*time.Minute, "Maximum time between full state fetches")
	timeout := lflag.Duration("evcc-request-timeout", 20*time.Second, "Timeout for a single controller request")
	useStreaming := lflag.Bool("evcc-use-streaming", false, "Receive updates over the controller websocket instead of polling")
	watchdog := lflag.Duration("evcc-stream-watchdog-interval", 30*time.Second, "How often the websocket is checked and reconnected")
	namePrefix := lflag.Bool("evcc-include-name-prefix", false, "Prefix entity names with evcc")
	tariffs := lflag.String("evcc-tariffs", "", "comma-delimited list of tariff forecasts to fetch (grid, feedin, solar, planner, co2)")

	lflag.Do(func() {
		cfg.Host = *host
		cfg.PollInterval = *pollInterval
		cfg.FullRefreshInterval = *fullRefresh
		cfg.RequestTimeout = *timeout
		cfg.UseStreaming = *useStreaming
		cfg.WatchdogInterval = *watchdog
		cfg.IncludeNamePrefix = *namePrefix
		if *tariffs != "" {
			for _, k := range strings.Split(*tariffs, ",") {
				if k = strings.TrimSpace(k); k != "" {
					cfg.Tariffs = append(cfg.Tariffs, k)
				}
			}
		}
	})
	return cfg
}
