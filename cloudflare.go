package ddns

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudflare/cloudflare-go"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const requestTimeout = 30 * time.Second

// NewCloudflare constructs a Provider for the Cloudflare v4 API.
//
// Requests are resolved relative to apiURL (DefaultAPIURL when empty)
// and authenticated with the account email and global API key.
func NewCloudflare(apiURL, email, apiKey string) (*Cloudflare, error) {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	// without the trailing slash, relative references would replace the last path segment
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	base, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing API URL: %w", err)
	}
	if email == "" || apiKey == "" {
		return nil, errors.New("email and API key are both required")
	}
	return &Cloudflare{
		baseURL: base,
		email:   email,
		apiKey:  apiKey,
		logger:  discard,
	}, nil
}

// Cloudflare implements ddns.Provider.
//
// It performs no retries; every call is attempted exactly once.
// It should be constructed using NewCloudflare.
type Cloudflare struct {
	baseURL    *url.URL
	email      string
	apiKey     string
	httpClient *http.Client
	logger     logrus.FieldLogger
}

func (cf *Cloudflare) SetLogger(logger logrus.FieldLogger) { cf.logger = logger }

func (cf *Cloudflare) SetHTTPClient(httpClient *http.Client) { cf.httpClient = httpClient }

// APIError is returned when Cloudflare did not report success for a request.
type APIError struct {
	StatusCode int
	Errors     []cloudflare.ResponseInfo
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("cloudflare request failed with status %d", e.StatusCode)
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, info := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%d: %s", info.Code, info.Message))
	}
	return fmt.Sprintf("cloudflare request failed with status %d: %s", e.StatusCode, strings.Join(msgs, "; "))
}

// LookupZone returns the ID of the only zone named name.
// Zero or several matches are reported as ErrNotFound.
func (cf *Cloudflare) LookupZone(ctx context.Context, name string) (string, error) {
	var res cloudflare.ZonesResponse
	if err := cf.do(ctx, http.MethodGet, "zones", url.Values{"name": {name}}, nil, &res); err != nil {
		return "", fmt.Errorf("error listing zones named %q: %w", name, err)
	}
	if n := len(res.Result); n != 1 {
		cf.logger.WithField("zone", name).Errorf("zone lookup returned %d results; expected exactly 1", n)
		return "", fmt.Errorf("%w: %d zones named %q", ErrNotFound, n, name)
	}
	return res.Result[0].ID, nil
}

// LookupAddressRecord returns the only A record named domain in the zone.
// Records of other types are ignored.
// Zero or several A records are reported as ErrNotFound; we never guess which one to update.
func (cf *Cloudflare) LookupAddressRecord(ctx context.Context, zoneID, domain string) (Record, error) {
	var res cloudflare.DNSListResponse
	ref := "zones/" + url.PathEscape(zoneID) + "/dns_records"
	if err := cf.do(ctx, http.MethodGet, ref, url.Values{"name": {domain}}, nil, &res); err != nil {
		return Record{}, fmt.Errorf("error listing DNS records named %q: %w", domain, err)
	}

	var found []cloudflare.DNSRecord
	for _, r := range res.Result {
		if r.Type == RecordTypeA {
			found = append(found, r)
		}
	}
	if n := len(found); n != 1 {
		cf.logger.WithFields(logrus.Fields{"zone": zoneID, "domain": domain}).
			Errorf("%s has %d A record(s); expected exactly 1", domain, n)
		return Record{}, fmt.Errorf("%w: %s has %d A records", ErrNotFound, domain, n)
	}
	r := found[0]
	return Record{ID: r.ID, Type: r.Type, Name: r.Name, Content: r.Content}, nil
}

// recordBody is the full replacement body of an A record.
// None of the fields are omitempty: anything left out would be reset by the API.
type recordBody struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

// UpdateRecord replaces the A record recordID with update.
func (cf *Cloudflare) UpdateRecord(ctx context.Context, zoneID, recordID string, update RecordUpdate) error {
	body := recordBody{
		Type:    RecordTypeA,
		Name:    update.Name,
		Content: update.Content,
		TTL:     update.TTL,
		Proxied: update.Proxied,
	}
	var res cloudflare.DNSRecordResponse
	ref := "zones/" + url.PathEscape(zoneID) + "/dns_records/" + url.PathEscape(recordID)
	if err := cf.do(ctx, http.MethodPut, ref, nil, body, &res); err != nil {
		return fmt.Errorf("error updating DNS record %s: %w", recordID, err)
	}
	cf.logger.WithFields(logrus.Fields{"zone": zoneID, "record": recordID}).
		Debugf("record now has content %s", res.Result.Content)
	return nil
}

// do sends one request and decodes the response into result.
//
// A request only succeeds if the status is 2xx and the response envelope reports success.
// Every failure, including transport errors, is returned as an error;
// provider-reported errors are logged as they were received.
func (cf *Cloudflare) do(ctx context.Context, method, ref string, query url.Values, body any, result any) error {
	u, err := cf.baseURL.Parse(ref)
	if err != nil {
		return fmt.Errorf("error building request URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("X-Auth-Email", cf.email)
	req.Header.Set("X-Auth-Key", cf.apiKey)
	req.Header.Set("Content-Type", "application/json")

	httpclient := cf.httpClient
	if httpclient == nil {
		httpclient = http.DefaultClient
	}
	log := cf.logger.WithFields(logrus.Fields{"method": method, "path": u.Path})
	log.Debug("sending cloudflare request")

	resp, err := httpclient.Do(req)
	if err != nil {
		log.WithError(err).Error("cloudflare request failed")
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).Error("unable to read cloudflare response")
		return fmt.Errorf("error reading response body: %w", err)
	}

	var envelope cloudflare.Response
	decodeErr := json.Unmarshal(raw, &envelope)
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if ok && decodeErr != nil {
		log.WithError(decodeErr).Error("unable to decode cloudflare response")
		return fmt.Errorf("error decoding response: %w", decodeErr)
	}
	if !ok || !envelope.Success {
		var verbatim struct {
			Errors jsoniter.RawMessage `json:"errors"`
		}
		_ = json.Unmarshal(raw, &verbatim)
		log.WithField("status", resp.StatusCode).Errorf("cloudflare reported errors: %s", verbatim.Errors)
		return &APIError{StatusCode: resp.StatusCode, Errors: envelope.Errors}
	}

	if err := json.Unmarshal(raw, result); err != nil {
		log.WithError(err).Error("unable to decode cloudflare result")
		return fmt.Errorf("error decoding result: %w", err)
	}
	return nil
}

// VerifyCredentials checks that email and apiKey are accepted by the Cloudflare API at apiURL.
// A nil httpClient uses the cloudflare-go default.
func VerifyCredentials(ctx context.Context, apiURL, email, apiKey string, httpClient *http.Client) error {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	opts := []cloudflare.Option{cloudflare.BaseURL(strings.TrimSuffix(apiURL, "/"))}
	if httpClient != nil {
		opts = append(opts, cloudflare.HTTPClient(httpClient))
	}
	api, err := cloudflare.New(apiKey, email, opts...)
	if err != nil {
		return fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	if _, err := api.UserDetails(ctx); err != nil {
		return fmt.Errorf("unable to verify credentials for %s: %w", email, err)
	}
	return nil
}
