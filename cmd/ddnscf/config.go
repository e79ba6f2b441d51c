package main

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"reflect"
	"strings"

	ddns "github.com/Travis-Britz/cloudflare-ddns"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// fileConfig is the layout of the JSON config file.
type fileConfig struct {
	Config  []fileSite `mapstructure:"config" json:"config"`
	IPEcho  []string   `mapstructure:"ip_echo" json:"ip_echo,omitempty"`
	APIURL  string     `mapstructure:"api_url" json:"api_url,omitempty"`
	Workers int        `mapstructure:"workers" json:"workers,omitempty"`
}

type fileSite struct {
	Email   string  `mapstructure:"email" json:"email"`
	APIKey  string  `mapstructure:"api_key" json:"api_key"`
	Zone    string  `mapstructure:"zone" json:"zone"`
	Domain  string  `mapstructure:"domain" json:"domain"`
	TTL     *int    `mapstructure:"ttl" json:"ttl,omitempty"`
	IP      *string `mapstructure:"ip" json:"ip,omitempty"`
	Proxied *bool   `mapstructure:"proxied" json:"proxied,omitempty"`
}

func (fc fileConfig) toConfig() ddns.Config {
	cfg := ddns.Config{
		IPEcho:  fc.IPEcho,
		APIURL:  fc.APIURL,
		Workers: fc.Workers,
	}
	if cfg.IPEcho == nil {
		cfg.IPEcho = ddns.DefaultIPEcho
	}
	if cfg.APIURL == "" {
		cfg.APIURL = ddns.DefaultAPIURL
	}
	for _, s := range fc.Config {
		site := ddns.Site{
			Email:   s.Email,
			APIKey:  s.APIKey,
			Zone:    s.Zone,
			Domain:  s.Domain,
			TTL:     ddns.TTLAuto,
			Proxied: true,
		}
		if s.TTL != nil {
			site.TTL = *s.TTL
		}
		if s.IP != nil {
			site.IP = *s.IP
		}
		if s.Proxied != nil {
			site.Proxied = *s.Proxied
		}
		cfg.Sites = append(cfg.Sites, site)
	}
	return cfg
}

// strictDecoding rejects unknown keys and values of the wrong type instead of coercing them.
func strictDecoding(dc *mapstructure.DecoderConfig) {
	dc.WeaklyTypedInput = false
	dc.ErrorUnused = true
	dc.DecodeHook = wholeNumbers
}

// wholeNumbers stops mapstructure from truncating JSON numbers like 120.9 into integer fields.
func wholeNumbers(from, to reflect.Type, data any) (any, error) {
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return data, nil
	}
	if from.Kind() != reflect.Float32 && from.Kind() != reflect.Float64 {
		return data, nil
	}
	f := reflect.ValueOf(data).Float()
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("expected a whole number; got %v", f)
	}
	return data, nil
}

// loadConfig builds the configuration for this run from exactly one source.
// The file at path is tried first; the environment is only used if that fails.
// The returned error lists why each source was rejected.
func loadConfig(path string, logger logrus.FieldLogger) (ddns.Config, error) {
	var errs []error
	if path == "" {
		logger.Debug("CONFIG_PATH is not set")
	} else {
		cfg, err := loadFromFile(path, logger)
		if err == nil {
			logger.WithField("path", path).Info("loaded config from file")
			return cfg, nil
		}
		logger.WithError(err).Warnf("unable to load config from %s", path)
		errs = append(errs, fmt.Errorf("file %s: %w", path, err))
	}

	cfg, err := loadFromEnv()
	if err == nil {
		logger.Info("loaded config from environment")
		return cfg, nil
	}
	errs = append(errs, fmt.Errorf("environment: %w", err))
	return ddns.Config{}, errors.Join(errs...)
}

func loadFromFile(path string, logger logrus.FieldLogger) (ddns.Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ddns.Config{}, err
	}
	if !info.Mode().IsRegular() {
		return ddns.Config{}, fmt.Errorf("%s is not a file", path)
	}
	// The file holds API keys.
	// We'll accept 0400 too; it might be provided read-only by some secrets managing software.
	if perms := info.Mode().Perm(); perms != 0600 && perms != 0400 {
		logger.Warnf("config file %q should have permissions \"-rw-------\"; found \"%s\"", path, fs.FileMode(perms))
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return ddns.Config{}, fmt.Errorf("error reading config: %w", err)
	}
	var fc fileConfig
	if err := v.Unmarshal(&fc, strictDecoding); err != nil {
		return ddns.Config{}, fmt.Errorf("error decoding config: %w", err)
	}

	cfg := fc.toConfig()
	if err := cfg.Validate(); err != nil {
		return ddns.Config{}, err
	}
	if err := cfg.CheckIPEcho(); err != nil {
		logger.WithError(err).Warn("some IP echo endpoints will always be skipped")
	}
	return cfg, nil
}

// loadFromEnv reads a single site from EMAIL, API_KEY, ZONE, DOMAIN, TTL and PROXIED.
func loadFromEnv() (ddns.Config, error) {
	env := viper.New()
	for _, key := range []string{"email", "api_key", "zone", "domain", "ttl", "proxied"} {
		if err := env.BindEnv(key); err != nil {
			return ddns.Config{}, err
		}
	}

	site := ddns.Site{
		Email:   env.GetString("email"),
		APIKey:  env.GetString("api_key"),
		Zone:    env.GetString("zone"),
		Domain:  env.GetString("domain"),
		Proxied: parseProxied(env.GetString("proxied")),
	}
	var errs []error
	if !env.IsSet("ttl") {
		errs = append(errs, errors.New("TTL is required"))
		site.TTL = ddns.TTLAuto
	} else if ttl, err := cast.ToIntE(strings.TrimSpace(env.GetString("ttl"))); err != nil {
		errs = append(errs, fmt.Errorf("TTL must be an integer: %w", err))
		site.TTL = ddns.TTLAuto
	} else {
		site.TTL = ttl
	}

	cfg := ddns.Config{
		Sites:  []ddns.Site{site},
		IPEcho: ddns.DefaultIPEcho,
		APIURL: ddns.DefaultAPIURL,
	}
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return ddns.Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func parseProxied(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "1":
		return true
	}
	return false
}
