package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	tea "charm.land/bubbletea/v2"

	"github.com/flowbike/ebike-monitor/internal/coordinator"
	"github.com/flowbike/ebike-monitor/internal/flowapi"
	"github.com/flowbike/ebike-monitor/internal/hass"
	"github.com/flowbike/ebike-monitor/internal/log"
	"github.com/flowbike/ebike-monitor/internal/oauth"
	"github.com/flowbike/ebike-monitor/tui"
)

const (
	modeLogin   = "login"
	modeBikes   = "bikes"
	modeCheck   = "check"
	modeMonitor = "monitor"
	modeServe   = "serve"

	defaultMonitorInterval = 60 * time.Second
)

var (
	authURL         string
	apiURL          string
	bikeID          string
	bikeName        string
	tokenFile       string
	statusFile      string
	loginCode       string
	logLevel        string
	intervalSetting string
	mqttBroker      string
	mqttUsername    string
	mqttPassword    string
	mqttPrefix      string
	listenAddr      string

	flagAuthURL      *string
	flagAPIURL       *string
	flagBikeID       *string
	flagBikeName     *string
	flagTokenFile    *string
	flagStatusFile   *string
	flagCode         *string
	flagLogLevel     *string
	flagInterval     *string
	flagMQTTBroker   *string
	flagMQTTUsername *string
	flagMQTTPassword *string
	flagMQTTPrefix   *string
	flagListen       *string

	configInitialized bool
	retryClient       *retry.Client
	logger            log.Logger = log.NewNopLogger()
)

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagAuthURL = flag.String("auth-url", "", "Identity provider realm URL (default: "+oauth.DefaultAuthBaseURL+" or AUTH_BASE_URL env)")
	flagAPIURL = flag.String("api-url", "", "Rider profile API URL (default: "+flowapi.DefaultBaseURL+" or API_BASE_URL env)")
	flagBikeID = flag.String("bike-id", "", "Bike to monitor (or BIKE_ID env; optional when the token file holds one bike)")
	flagBikeName = flag.String("bike-name", "", "Display name override (or BIKE_NAME env)")
	flagTokenFile = flag.String("token-file", "", "Token storage file (default: .ebike-tokens.json or TOKEN_FILE env)")
	flagStatusFile = flag.String("status-file", "", "Latest status file (default: latest_battery_status.json or STATUS_FILE env)")
	flagCode = flag.String("code", "", "Authorization code or redirect URL for login (read from stdin when empty)")
	flagLogLevel = flag.String("log-level", "", "debug, info, warn or error (or LOG_LEVEL env)")
	flagInterval = flag.String("interval", "", "Polling interval, seconds or duration (or POLL_INTERVAL env; monitor 60s, serve 300s)")
	flagMQTTBroker = flag.String("mqtt-broker", "", "MQTT broker URL for Home Assistant discovery (or MQTT_BROKER env; empty disables)")
	flagMQTTUsername = flag.String("mqtt-username", "", "MQTT username (or MQTT_USERNAME env)")
	flagMQTTPassword = flag.String("mqtt-password", "", "MQTT password (or MQTT_PASSWORD env)")
	flagMQTTPrefix = flag.String("mqtt-prefix", "", "Home Assistant discovery prefix (default: homeassistant or MQTT_DISCOVERY_PREFIX env)")
	flagListen = flag.String("listen", "", "HTTP listen address for serve (default: :9464 or LISTEN_ADDR env; \"-\" disables)")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [login|bikes|check|monitor [seconds]|serve]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
}

// initConfig parses flags and initializes configuration
// Separated from init() to avoid conflicts with test flag parsing
func initConfig() {
	if configInitialized {
		return
	}
	configInitialized = true

	flag.Parse()

	// Priority: flag > env > default
	authURL = getConfig(*flagAuthURL, "AUTH_BASE_URL", oauth.DefaultAuthBaseURL)
	apiURL = getConfig(*flagAPIURL, "API_BASE_URL", flowapi.DefaultBaseURL)
	bikeID = getConfig(*flagBikeID, "BIKE_ID", "")
	bikeName = getConfig(*flagBikeName, "BIKE_NAME", "")
	tokenFile = getConfig(*flagTokenFile, "TOKEN_FILE", ".ebike-tokens.json")
	statusFile = getConfig(*flagStatusFile, "STATUS_FILE", "latest_battery_status.json")
	loginCode = *flagCode
	logLevel = getConfig(*flagLogLevel, "LOG_LEVEL", "")
	intervalSetting = getConfig(*flagInterval, "POLL_INTERVAL", "")
	mqttBroker = getConfig(*flagMQTTBroker, "MQTT_BROKER", "")
	mqttUsername = getConfig(*flagMQTTUsername, "MQTT_USERNAME", "")
	mqttPassword = getConfig(*flagMQTTPassword, "MQTT_PASSWORD", "")
	mqttPrefix = getConfig(*flagMQTTPrefix, "MQTT_DISCOVERY_PREFIX", hass.DefaultDiscoveryPrefix)
	listenAddr = getConfig(*flagListen, "LISTEN_ADDR", ":9464")
	if listenAddr == "-" {
		listenAddr = ""
	}

	for name, u := range map[string]string{"AUTH_BASE_URL": authURL, "API_BASE_URL": apiURL} {
		if err := validateURL(u); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid %s: %v\n", name, err)
			os.Exit(1)
		}
		// Warn if using HTTP instead of HTTPS
		if strings.HasPrefix(strings.ToLower(u), "http://") {
			fmt.Fprintf(
				os.Stderr,
				"⚠️  WARNING: %s uses HTTP instead of HTTPS. Tokens will be transmitted in plaintext!\n\n",
				name,
			)
		}
	}

	// Bike ids issued by the cloud are UUIDs
	if bikeID != "" {
		if _, err := uuid.Parse(bikeID); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Warning: BIKE_ID doesn't appear to be a valid UUID: %s\n\n", bikeID)
		}
	}

	// Initialize HTTP client with retry support
	baseHTTPClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	// Wrap with retry logic using go-httpretry
	var err error
	retryClient, err = retry.NewBackgroundClient(
		retry.WithHTTPClient(baseHTTPClient),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create retry client: %v", err))
	}
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// validateURL validates that a base URL is properly formatted
func validateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// parseInterval accepts plain seconds ("60") or a Go duration ("5m").
func parseInterval(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("interval must be positive, got: %d", n)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got: %s", d)
	}
	return d, nil
}

// parseMode resolves the mode and its polling interval from the positional
// arguments. The interval priority is positional seconds (monitor only) >
// -interval/POLL_INTERVAL > mode default.
func parseMode(args []string, configured string) (string, time.Duration, error) {
	mode := modeCheck
	if len(args) > 0 {
		mode = strings.ToLower(args[0])
	}

	var interval time.Duration
	switch mode {
	case modeLogin, modeBikes, modeCheck:
	case modeMonitor, "watch", "continuous":
		mode = modeMonitor
		interval = defaultMonitorInterval
	case modeServe:
		interval = coordinator.DefaultInterval
	default:
		return "", 0, fmt.Errorf("unknown mode %q", args[0])
	}

	if interval == 0 {
		return mode, 0, nil
	}

	if configured != "" {
		d, err := parseInterval(configured)
		if err != nil {
			return "", 0, err
		}
		interval = d
	}

	// Unparsable positional seconds keep the configured interval.
	if mode == modeMonitor && len(args) > 1 {
		if d, err := parseInterval(args[1]); err == nil {
			interval = d
		}
	}
	return mode, interval, nil
}

func newLogger(mode string) log.Logger {
	opts := log.NewOptions()
	if mode == modeServe {
		opts.Level = "info"
	}
	if logLevel != "" {
		opts.Level = logLevel
	}
	return log.NewLogger(opts)
}

// newClient wires the auth flow and API client around store.
func newClient(store *oauth.Store) (*oauth.Flow, *flowapi.Client) {
	flow := oauth.NewFlow(
		retryClient,
		store,
		oauth.WithAuthBaseURL(authURL),
		oauth.WithFlowLogger(logger),
	)
	client := flowapi.NewClient(
		retryClient,
		flow,
		flowapi.WithBaseURL(apiURL),
		flowapi.WithLogger(logger),
	)
	return flow, client
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func main() {
	initConfig()

	mode, interval, err := parseMode(flag.Args(), intervalSetting)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}
	logger = newLogger(mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if mode == modeServe {
		if err := runServe(ctx, interval); err != nil {
			logger.Error(err, "serve failed")
			os.Exit(1)
		}
		return
	}

	if isTTY() {
		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): stdin stays free for the login code. Ctrl+C is
		// handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		d.Banner()
		runErr := run(ctx, d, mode, interval)
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
		if runErr != nil {
			os.Exit(1)
		}
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner()
		if err := run(ctx, d, mode, interval); err != nil {
			os.Exit(1)
		}
	}
}

func run(ctx context.Context, d tui.Displayer, mode string, interval time.Duration) error {
	var err error
	switch mode {
	case modeLogin:
		err = runLogin(ctx, d, os.Stdin)
	case modeBikes:
		err = runBikes(ctx, d)
	case modeMonitor:
		err = runMonitor(ctx, d, interval)
	default:
		err = runCheck(ctx, d)
	}
	if err != nil {
		d.Fatal(err)
	}
	return err
}
