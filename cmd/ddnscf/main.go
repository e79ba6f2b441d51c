// Command ddnscf points Cloudflare A records at this machine's public IP address.
//
// It performs a single pass and exits, so it is meant to be run from a timer or cron.
// Configuration comes from the JSON file named by --config or CONFIG_PATH,
// or, failing that, from the EMAIL, API_KEY, ZONE, DOMAIN, TTL and PROXIED environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	ddns "github.com/Travis-Britz/cloudflare-ddns"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	settings, err := parseSettings(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := newLogger(settings.GetString("log-level"), settings.GetString("log-format"))

	if err := run(context.Background(), settings, logger); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

// parseSettings reads command line flags, falling back to environment variables for those left unset.
func parseSettings(args []string) (*viper.Viper, error) {
	flags := pflag.NewFlagSet("ddnscf", pflag.ContinueOnError)
	flags.StringP("config", "c", "", "Path to the JSON config file (env CONFIG_PATH)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error (env LOG_LEVEL)")
	flags.String("log-format", "text", "Log format: text or json (env LOG_FORMAT)")
	flags.Int("workers", 0, "Maximum number of sites to update at once (env WORKERS)")
	flags.Bool("check", false, "Verify the configured credentials and exit")
	flags.Bool("setup", false, "Interactively create a config file and exit")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	settings := viper.New()
	if err := settings.BindPFlags(flags); err != nil {
		return nil, err
	}
	for key, env := range map[string]string{
		"config":     "CONFIG_PATH",
		"log-level":  "LOG_LEVEL",
		"log-format": "LOG_FORMAT",
		"workers":    "WORKERS",
	} {
		if err := settings.BindEnv(key, env); err != nil {
			return nil, err
		}
	}
	return settings, nil
}

func newLogger(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("unknown log level %q; using info", level)
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func run(ctx context.Context, settings *viper.Viper, logger *logrus.Logger) error {
	path := settings.GetString("config")
	if settings.GetBool("setup") {
		return runSetup(ctx, path, ddns.DefaultAPIURL, logger)
	}

	cfg, err := loadConfig(path, logger)
	if err != nil {
		return fmt.Errorf("unable to load any config: %w", err)
	}
	if w := settings.GetInt("workers"); w > 0 {
		cfg.Workers = w
	}

	if settings.GetBool("check") {
		return checkCredentials(ctx, cfg, logger)
	}

	// Failed sites are logged by Run. They are not an error for the process:
	// the next scheduled run is the retry.
	ddns.Run(ctx, cfg, logger)
	return nil
}

func checkCredentials(ctx context.Context, cfg ddns.Config, logger logrus.FieldLogger) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var errs []error
	for _, site := range cfg.Sites {
		log := logger.WithField("domain", site.Domain)
		if err := ddns.VerifyCredentials(ctx, cfg.APIURL, site.Email, site.APIKey, nil); err != nil {
			log.WithError(err).Error("credentials rejected")
			errs = append(errs, fmt.Errorf("%s: %w", site.Domain, err))
			continue
		}
		log.Info("credentials verified")
	}
	return errors.Join(errs...)
}
