package ddns

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// 15 seconds is an eternity for the size of the request we're making,
// but this ensures that every endpoint eventually gives up even if the caller supplied context.Background
// and http.DefaultClient (with no timeout).
const lookupTimeout = 15 * time.Second

// maxEchoBody caps how much of an echo response is read. An address is never this long.
const maxEchoBody = 1 << 10

// WebResolver constructs a resolver which asks external echo endpoints for our public IP address.
//
// Endpoints are tried strictly in the given order and the first one that answers wins;
// the remaining endpoints are never contacted.
// An endpoint that fails is logged and skipped.
// If every endpoint fails, or none were given, Resolve returns an error wrapping ErrNotFound.
//
// Supported endpoints:
//   - http:// and https:// URLs, which must answer "200 OK" with the address as the response body.
//     The body is trimmed of surrounding whitespace and otherwise used as-is, even when that leaves nothing;
//     the DNS provider validates the address when the record is written.
//   - dns://server[:port]/name, which sends an A query for name to server,
//     e.g. dns://resolver1.opendns.com/myip.opendns.com.
//   - iface://name, which uses the first public IPv4 address assigned to a local interface.
//     An empty name searches every interface.
//
// The recommended approach is to run your own service over https.
func WebResolver(endpoints ...string) Resolver {
	return &webResolver{endpoints: endpoints, logger: discard}
}

type webResolver struct {
	httpClient *http.Client
	logger     logrus.FieldLogger
	endpoints  []string
}

func (wr *webResolver) SetLogger(logger logrus.FieldLogger) { wr.logger = logger }

func (wr *webResolver) SetHTTPClient(httpClient *http.Client) { wr.httpClient = httpClient }

// Resolve implements ddns.Resolver.
func (wr *webResolver) Resolve(ctx context.Context) (string, error) {
	if len(wr.endpoints) == 0 {
		return "", fmt.Errorf("%w: no IP echo endpoints were provided", ErrNotFound)
	}

	var errs []error
	for _, endpoint := range wr.endpoints {
		log := wr.logger.WithField("endpoint", endpoint)
		ip, err := wr.lookup(ctx, endpoint)
		if err != nil {
			log.WithError(err).Warn("unable to get IP from echo endpoint")
			errs = append(errs, fmt.Errorf("%s: %w", endpoint, err))
			continue
		}
		log.Infof("got IP %s", ip)
		return ip, nil
	}
	return "", fmt.Errorf("%w: every IP echo endpoint failed: %w", ErrNotFound, errors.Join(errs...))
}

func (wr *webResolver) lookup(ctx context.Context, endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("error parsing URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	switch u.Scheme {
	case "http", "https":
		return wr.httpLookup(ctx, u)
	case "dns":
		return dnsLookup(ctx, u)
	case "iface":
		return interfaceLookup(u.Host)
	}
	return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
}

func (wr *webResolver) httpLookup(ctx context.Context, u *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	httpclient := wr.httpClient
	if httpclient == nil {
		httpclient = http.DefaultClient
	}

	resp, err := httpclient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http request returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEchoBody))
	if err != nil {
		return "", fmt.Errorf("error reading response body: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

// validateEndpoint reports whether WebResolver knows how to query endpoint.
func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("error parsing URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("%q has no host", endpoint)
		}
	case "dns":
		if u.Host == "" || strings.Trim(u.Path, "/") == "" {
			return fmt.Errorf("%q must look like dns://server/name", endpoint)
		}
	case "iface":
	default:
		return fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	return nil
}
