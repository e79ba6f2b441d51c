package ddns

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

var discard logrus.FieldLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Status is the final state of one site's reconciliation.
type Status int

const (
	StatusFailed Status = iota
	StatusUnchanged
	StatusUpdated
)

func (s Status) String() string {
	switch s {
	case StatusUnchanged:
		return "unchanged"
	case StatusUpdated:
		return "updated"
	default:
		return "failed"
	}
}

// New returns a client which reconciles the A record described by site.
//
// Unless options say otherwise the record is managed through the Cloudflare API at DefaultAPIURL
// and the current IP is discovered by querying DefaultIPEcho.
// If site.IP is set, discovery is skipped entirely and that address is used.
func New(site Site, options ...clientOption) (DDNSClient, error) {
	if err := site.Validate(); err != nil {
		return nil, fmt.Errorf("ddns.New: invalid site %q: %w", site.Domain, err)
	}
	c := &client{
		site:   site,
		apiURL: DefaultAPIURL,
		logger: discard,
	}
	for i, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("ddns.New: option %d returned an error: %w", i, err)
		}
	}

	if c.Provider == nil {
		cf, err := NewCloudflare(c.apiURL, site.Email, site.APIKey)
		if err != nil {
			return nil, fmt.Errorf("ddns.New: error creating cloudflare DNS provider: %w", err)
		}
		c.Provider = cf
	}
	if c.Resolver == nil {
		c.Resolver = WebResolver(DefaultIPEcho...)
	}

	// dependencies may have been registered after WithLogger or UsingHTTPClient, so hand them over now
	c.logger = c.logger.WithField("domain", site.Domain)
	type setLogger interface {
		SetLogger(logrus.FieldLogger)
	}
	type setHTTPClient interface {
		SetHTTPClient(*http.Client)
	}
	for _, dep := range []any{c.Provider, c.Resolver} {
		if l, ok := dep.(setLogger); ok {
			l.SetLogger(c.logger)
		}
		if hc, ok := dep.(setHTTPClient); ok && c.httpClient != nil {
			hc.SetHTTPClient(c.httpClient)
		}
	}
	return c, nil
}

type clientOption func(*client) error

// UsingCloudflare manages records through the Cloudflare API at apiURL,
// authenticating with the credentials of the site.
func UsingCloudflare(apiURL string) clientOption {
	return func(c *client) error {
		if apiURL == "" {
			apiURL = DefaultAPIURL
		}
		c.apiURL = apiURL
		c.Provider = nil
		return nil
	}
}

// UsingProvider manages records through p.
func UsingProvider(p Provider) clientOption {
	return func(c *client) error {
		c.Provider = p
		return nil
	}
}

// UsingResolver discovers the current IP with resolver.
// A nil resolver restores the default.
func UsingResolver(resolver Resolver) clientOption {
	return func(c *client) error {
		c.Resolver = resolver
		return nil
	}
}

// UsingWebResolver discovers the current IP by querying endpoints in order. See WebResolver.
// Endpoints that can't be queried are skipped when the resolver runs, so they never fail construction.
func UsingWebResolver(endpoints ...string) clientOption {
	return func(c *client) error {
		c.Resolver = WebResolver(endpoints...)
		return nil
	}
}

// WithLogger sends log output to logger. The default discards it.
func WithLogger(logger logrus.FieldLogger) clientOption {
	return func(c *client) error {
		if logger == nil {
			logger = discard
		}
		c.logger = logger
		return nil
	}
}

// UsingHTTPClient sends every request made by the provider and resolver through httpclient.
func UsingHTTPClient(httpclient *http.Client) clientOption {
	return func(c *client) error {
		c.httpClient = httpclient
		return nil
	}
}

// withZoneCache shares zone IDs between the sites of one pass.
func withZoneCache(zones *cache.Cache) clientOption {
	return func(c *client) error {
		c.zones = zones
		return nil
	}
}

type DDNSClient interface {
	// RunDDNS performs one reconciliation pass.
	// The returned error is non-nil exactly when the status is StatusFailed,
	// and wraps one of ErrIPNotFound, ErrZoneNotFound, ErrRecordNotFound or ErrUpdateFailed.
	RunDDNS(ctx context.Context) (Status, error)
}

type client struct {
	Resolver
	Provider
	site       Site
	apiURL     string
	httpClient *http.Client
	zones      *cache.Cache
	logger     logrus.FieldLogger
}

func (c *client) RunDDNS(ctx context.Context) (Status, error) {
	c.logger.Info("starting update")

	ip := c.site.IP
	if ip != "" {
		c.logger.Debugf("using configured IP %s", ip)
	} else {
		var err error
		if ip, err = c.Resolve(ctx); err != nil {
			c.logger.WithError(err).Error("IP cannot be found")
			return StatusFailed, fmt.Errorf("%w: %w", ErrIPNotFound, err)
		}
	}
	c.logger.Debugf("ip: %s", ip)

	zoneID, err := c.zoneID(ctx)
	if err != nil {
		c.logger.WithError(err).Error("unable to get zone ID")
		return StatusFailed, fmt.Errorf("%w: %w", ErrZoneNotFound, err)
	}
	c.logger.Debugf("zone ID: %s", zoneID)

	record, err := c.LookupAddressRecord(ctx, zoneID, c.site.Domain)
	if err != nil {
		c.logger.WithError(err).Error("unable to get DNS record")
		return StatusFailed, fmt.Errorf("%w: %w", ErrRecordNotFound, err)
	}
	c.logger.Debugf("record ID: %s", record.ID)

	if record.Content == ip {
		c.logger.Infof("IP %s has not changed, skipping", ip)
		return StatusUnchanged, nil
	}

	err = c.UpdateRecord(ctx, zoneID, record.ID, RecordUpdate{
		Name:    c.site.Domain,
		Content: ip,
		TTL:     c.site.TTL,
		Proxied: c.site.Proxied,
	})
	if err != nil {
		c.logger.WithError(err).Error("update failed")
		return StatusFailed, fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}
	c.logger.Infof("updated from %s to %s", record.Content, ip)
	return StatusUpdated, nil
}

func (c *client) zoneID(ctx context.Context) (string, error) {
	if c.zones == nil {
		return c.LookupZone(ctx, c.site.Zone)
	}
	// a zone ID found with one key says nothing about whether another key can see it
	key := zoneCacheKey(c.site)
	if id, found := c.zones.Get(key); found {
		return id.(string), nil
	}
	id, err := c.LookupZone(ctx, c.site.Zone)
	if err != nil {
		return "", err
	}
	c.zones.SetDefault(key, id)
	return id, nil
}

func zoneCacheKey(s Site) string {
	sum := sha256.Sum256([]byte(s.Email + "\x00" + s.APIKey))
	return hex.EncodeToString(sum[:]) + "/" + normalizeName(s.Zone)
}
