package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/homestay/internal/handlers/middleware"
	"github.com/nkiryanov/homestay/internal/logger"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
	defaultPublicURL    = "http://localhost:8000"
	defaultFrontendURL  = "http://localhost:3000"
	defaultTimezone     = "Asia/Ho_Chi_Minh"
)

type Config struct {
	// Default logging level
	LogLevel string

	// Environment (dev, prod), defines logging format
	Environment string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secrets to sign access and refresh tokens. Must differ.
	AccessSecret  string
	RefreshSecret string

	// Public address of this service, gateway callbacks are built from it
	PublicURL string

	// Browser is redirected here after payment
	FrontendURL string

	// Comma separated origins allowed to call API from browser
	CORSOrigins string

	// Comma separated emails that get admin role on registration
	AdminEmails string

	// Comma separated addresses or CIDR ranges of reverse proxies allowed to report client address
	TrustedProxies string

	SePayAccount string
	SePayBank    string

	// Webhook authorization key, required in production
	SePayAPIKey string

	// VNPay is enabled only if terminal code and hash secret are set
	VNPayTmnCode    string
	VNPayHashSecret string
	VNPayPayURL     string
	VNPayAPIURL     string

	// RabbitMQ address; booking events are not published if empty
	AMQPURL string

	// Calendar dates of stays are evaluated in this timezone
	Timezone string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		Environment: defaultEnvironment,
		ListenAddr:  defaultListenAddr,
		PublicURL:   defaultPublicURL,
		FrontendURL: defaultFrontendURL,
		CORSOrigins: defaultFrontendURL,
		Timezone:    defaultTimezone,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}

	envMap := map[string]func(string){
		"RUN_ADDRESS":       setString(&c.ListenAddr),
		"DATABASE_URI":      setString(&c.DatabaseDSN),
		"ACCESS_SECRET":     setString(&c.AccessSecret),
		"REFRESH_SECRET":    setString(&c.RefreshSecret),
		"LOG_LEVEL":         setString(&c.LogLevel),
		"ENVIRONMENT":       setString(&c.Environment),
		"PUBLIC_URL":        setString(&c.PublicURL),
		"FRONTEND_URL":      setString(&c.FrontendURL),
		"CORS_ORIGINS":      setString(&c.CORSOrigins),
		"ADMIN_EMAILS":      setString(&c.AdminEmails),
		"TRUSTED_PROXIES":   setString(&c.TrustedProxies),
		"SEPAY_ACCOUNT":     setString(&c.SePayAccount),
		"SEPAY_BANK":        setString(&c.SePayBank),
		"SEPAY_API_KEY":     setString(&c.SePayAPIKey),
		"VNPAY_TMN_CODE":    setString(&c.VNPayTmnCode),
		"VNPAY_HASH_SECRET": setString(&c.VNPayHashSecret),
		"VNPAY_PAY_URL":     setString(&c.VNPayPayURL),
		"VNPAY_API_URL":     setString(&c.VNPayAPIURL),
		"AMQP_URL":          setString(&c.AMQPURL),
		"TIMEZONE":          setString(&c.Timezone),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("homestay", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.AccessSecret, "access-secret", "s", c.AccessSecret, "Access token secret")
	fs.StringVarP(&c.RefreshSecret, "refresh-secret", "r", c.RefreshSecret, "Refresh token secret")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVar(&c.PublicURL, "public-url", c.PublicURL, "Public address of the service")
	fs.StringVar(&c.FrontendURL, "frontend-url", c.FrontendURL, "Frontend address payments redirect to")
	fs.StringVar(&c.CORSOrigins, "cors-origins", c.CORSOrigins, "Comma separated allowed origins")
	fs.StringVar(&c.AdminEmails, "admin-emails", c.AdminEmails, "Comma separated admin emails")
	fs.StringVar(&c.TrustedProxies, "trusted-proxies", c.TrustedProxies, "Comma separated reverse proxy addresses or CIDR ranges")
	fs.StringVar(&c.AMQPURL, "amqp", c.AMQPURL, "RabbitMQ address for booking events")
	fs.StringVarP(&c.Timezone, "timezone", "t", c.Timezone, "Timezone of stay dates")

	return fs.Parse(args)
}

func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}
	if c.AccessSecret == "" || c.RefreshSecret == "" {
		errs = append(errs, errors.New("access and refresh secrets are required"))
	} else if c.AccessSecret == c.RefreshSecret {
		errs = append(errs, errors.New("access and refresh secrets must differ"))
	}
	if (c.VNPayTmnCode == "") != (c.VNPayHashSecret == "") {
		errs = append(errs, errors.New("VNPay requires both terminal code and hash secret"))
	}
	if c.Environment == logger.EnvProduction && c.SePayAPIKey == "" {
		errs = append(errs, errors.New("SePay API key is required in production"))
	}
	if _, err := middleware.ParseTrustedProxies(splitList(c.TrustedProxies)); err != nil {
		errs = append(errs, fmt.Errorf("invalid trusted proxies: %w", err))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("unknown timezone %q", c.Timezone))
	}

	return errors.Join(errs...)
}

func (c *Config) VNPayEnabled() bool {
	return c.VNPayTmnCode != "" && c.VNPayHashSecret != ""
}

// split comma separated list dropping empty items
func splitList(value string) []string {
	var res []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			res = append(res, item)
		}
	}
	return res
}
