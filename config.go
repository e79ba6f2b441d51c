package ddns

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// DefaultAPIURL is the base URL of the Cloudflare v4 API.
const DefaultAPIURL = "https://api.cloudflare.com/client/v4/"

// TTLAuto asks Cloudflare to pick the record TTL.
const TTLAuto = 1

// DefaultIPEcho lists the public IP echo services queried when none are configured.
// I'm not vouching for these services, but they do return the IP of the client connection.
// If possible, run your own and configure its URL instead.
var DefaultIPEcho = []string{
	"https://ipecho.net/plain",
	"https://icanhazip.com/",
	"https://tnx.nl/ip",
	"http://whatismyip.akamai.com/",
}

// Site is one managed address record along with the credentials used to manage it.
type Site struct {
	Email  string
	APIKey string
	Zone   string
	Domain string
	// TTL in seconds, or TTLAuto.
	TTL int
	// IP overrides discovery when set.
	IP      string
	Proxied bool
}

// Validate reports every problem with s in a single error.
func (s Site) Validate() error {
	var errs []error
	for _, f := range []struct{ name, value string }{
		{"email", s.Email},
		{"api_key", s.APIKey},
		{"zone", s.Zone},
		{"domain", s.Domain},
	} {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", f.name))
		}
	}
	if s.TTL < TTLAuto {
		errs = append(errs, fmt.Errorf("ttl must be a positive integer; got %d", s.TTL))
	}
	if s.Zone != "" {
		zone := normalizeName(s.Zone)
		if suffix, _ := publicsuffix.PublicSuffix(zone); suffix == zone {
			errs = append(errs, fmt.Errorf("zone %q is a public suffix", s.Zone))
		}
		if s.Domain != "" && !inZone(normalizeName(s.Domain), zone) {
			errs = append(errs, fmt.Errorf("domain %q is not inside zone %q", s.Domain, s.Zone))
		}
	}
	return errors.Join(errs...)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

func inZone(domain, zone string) bool {
	return domain == zone || strings.HasSuffix(domain, "."+zone)
}

// Config is everything needed for one reconciliation pass.
// It is built once at startup and never modified afterwards.
type Config struct {
	Sites []Site
	// IPEcho is queried in order and the first success wins.
	// A nil IPEcho uses DefaultIPEcho; an empty, non-nil slice disables discovery.
	IPEcho []string
	// APIURL is the base every provider request is resolved against. Empty means DefaultAPIURL.
	APIURL string
	// Workers is the maximum number of sites reconciled at once. Zero means one.
	Workers int
}

// Validate reports every problem with c in a single error.
func (c Config) Validate() error {
	var errs []error
	if len(c.Sites) == 0 {
		errs = append(errs, errors.New("no sites configured"))
	}
	for i, s := range c.Sites {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("config[%d]: %w", i, err))
		}
	}
	if c.APIURL != "" {
		u, err := url.Parse(c.APIURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("api_url: %w", err))
		} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("api_url: expected an absolute http(s) URL; got %q", c.APIURL))
		}
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative; got %d", c.Workers))
	}
	return errors.Join(errs...)
}

// CheckIPEcho reports the IP echo endpoints that can never answer.
// They are not a configuration error: the resolver skips them,
// and sites with a fixed IP never query them at all.
func (c Config) CheckIPEcho() error {
	var errs []error
	for i, e := range c.IPEcho {
		if err := validateEndpoint(e); err != nil {
			errs = append(errs, fmt.Errorf("ip_echo[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (c Config) ipEcho() []string {
	if c.IPEcho == nil {
		return DefaultIPEcho
	}
	return c.IPEcho
}

func (c Config) apiURL() string {
	if c.APIURL == "" {
		return DefaultAPIURL
	}
	return c.APIURL
}
