package ddns_test

import (
	"context"
	"net/http"
	"testing"

	ddns "github.com/Travis-Britz/cloudflare-ddns"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func siteFor(domain string) ddns.Site {
	s := testSite()
	s.Domain = domain
	return s
}

func TestRunUpdatesChangedRecord(t *testing.T) {
	echo, _ := echoServer(t, "9.9.9.9\n")
	api, srv := newFakeAPI(t)
	api.zones["example.com"] = []string{"Z1"}
	api.records["Z1"] = []apiRecord{{ID: "R1", Type: "A", Name: "home.example.com", Content: "8.8.8.8"}}

	cfg := ddns.Config{
		Sites:  []ddns.Site{testSite()},
		IPEcho: []string{echo.URL},
		APIURL: srv.URL,
	}
	outcomes := ddns.Run(context.Background(), cfg, nil)
	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, ddns.StatusUpdated, outcomes[0].Status)

	puts := api.requestsMatching(http.MethodPut)
	require.Len(t, puts, 1)
	assert.Equal(t, "/zones/Z1/dns_records/R1", puts[0].Path)
	assert.Equal(t, map[string]any{
		"type":    "A",
		"name":    "home.example.com",
		"content": "9.9.9.9",
		"ttl":     float64(1),
		"proxied": true,
	}, puts[0].Body)

	// a second pass finds nothing to do
	outcomes = ddns.Run(context.Background(), cfg, nil)
	require.Len(t, outcomes, 1)
	assert.Equal(t, ddns.StatusUnchanged, outcomes[0].Status)
	assert.Len(t, api.requestsMatching(http.MethodPut), 1)
}

func TestRunIsolatesFailures(t *testing.T) {
	echo, _ := echoServer(t, "9.9.9.9")
	api, srv := newFakeAPI(t)
	api.zones["example.com"] = []string{"Z1"}
	api.records["Z1"] = []apiRecord{
		{ID: "R2", Type: "A", Name: "b.example.com", Content: "8.8.8.8"},
		{ID: "R3", Type: "A", Name: "c.example.com", Content: "9.9.9.9"},
	}

	broken := siteFor("a.example.org")
	broken.Zone = "example.org"
	cfg := ddns.Config{
		Sites:  []ddns.Site{broken, siteFor("b.example.com"), siteFor("c.example.com")},
		IPEcho: []string{echo.URL},
		APIURL: srv.URL,
	}

	logger, hook := test.NewNullLogger()
	outcomes := ddns.Run(context.Background(), cfg, logger)
	require.Len(t, outcomes, 3)

	assert.Equal(t, "a.example.org", outcomes[0].Domain)
	assert.Equal(t, ddns.StatusFailed, outcomes[0].Status)
	assert.ErrorIs(t, outcomes[0].Err, ddns.ErrZoneNotFound)

	assert.Equal(t, "b.example.com", outcomes[1].Domain)
	assert.Equal(t, ddns.StatusUpdated, outcomes[1].Status)

	assert.Equal(t, "c.example.com", outcomes[2].Domain)
	assert.Equal(t, ddns.StatusUnchanged, outcomes[2].Status)

	var failures int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "site update failed" {
			failures++
			assert.Equal(t, "a.example.org", e.Data["domain"])
		}
	}
	assert.Equal(t, 1, failures)
}

func TestRunSharesZoneLookups(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.zones["example.com"] = []string{"Z1"}
	api.records["Z1"] = []apiRecord{
		{ID: "R1", Type: "A", Name: "a.example.com", Content: "1.1.1.1"},
		{ID: "R2", Type: "A", Name: "b.example.com", Content: "1.1.1.1"},
	}

	cfg := ddns.Config{
		Sites:  []ddns.Site{siteFor("a.example.com"), siteFor("b.example.com")},
		IPEcho: []string{},
		APIURL: srv.URL,
	}
	outcomes := ddns.Run(context.Background(), cfg, nil, ddns.UsingResolver(ddns.FromString("1.1.1.1")))
	for _, o := range outcomes {
		assert.Equal(t, ddns.StatusUnchanged, o.Status, o.Domain)
	}

	var zoneLookups int
	for _, r := range api.requestsMatching(http.MethodGet) {
		if r.Path == "/zones" {
			zoneLookups++
		}
	}
	assert.Equal(t, 1, zoneLookups)
}

func TestRunKeepsOrderWithWorkers(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.zones["example.com"] = []string{"Z1"}
	domains := []string{"a.example.com", "b.example.com", "c.example.com", "d.example.com", "e.example.com"}
	cfg := ddns.Config{APIURL: srv.URL, Workers: 3}
	for i, d := range domains {
		api.records["Z1"] = append(api.records["Z1"], apiRecord{ID: "R" + d, Type: "A", Name: d, Content: "8.8.8.8"})
		s := siteFor(d)
		if i%2 == 0 {
			s.IP = "8.8.8.8"
		} else {
			s.IP = "9.9.9.9"
		}
		cfg.Sites = append(cfg.Sites, s)
	}

	outcomes := ddns.Run(context.Background(), cfg, nil)
	require.Len(t, outcomes, len(domains))
	for i, o := range outcomes {
		assert.Equal(t, domains[i], o.Domain)
		want := ddns.StatusUnchanged
		if i%2 == 1 {
			want = ddns.StatusUpdated
		}
		assert.Equal(t, want, o.Status, o.Domain)
	}
	assert.Len(t, api.requestsMatching(http.MethodPut), 2)
}

type panickyProvider struct{ fakeProvider }

func (p *panickyProvider) LookupAddressRecord(ctx context.Context, zoneID, domain string) (ddns.Record, error) {
	if domain == "a.example.com" {
		panic("unexpected response")
	}
	return p.fakeProvider.LookupAddressRecord(ctx, zoneID, domain)
}

func TestRunRecoversFromPanics(t *testing.T) {
	p := &panickyProvider{fakeProvider{zoneID: "Z1", record: ddns.Record{ID: "R1", Type: "A", Content: "1.1.1.1"}}}
	cfg := ddns.Config{Sites: []ddns.Site{siteFor("a.example.com"), siteFor("b.example.com")}}

	outcomes := ddns.Run(context.Background(), cfg, nil,
		ddns.UsingProvider(p),
		ddns.UsingResolver(ddns.FromString("1.1.1.1")),
	)
	require.Len(t, outcomes, 2)
	assert.Equal(t, ddns.StatusFailed, outcomes[0].Status)
	assert.ErrorContains(t, outcomes[0].Err, "unexpected response")
	assert.Equal(t, ddns.StatusUnchanged, outcomes[1].Status)
}

func TestRunReportsInvalidSites(t *testing.T) {
	bad := siteFor("home.example.net")
	outcomes := ddns.Run(context.Background(), ddns.Config{Sites: []ddns.Site{bad}}, nil,
		ddns.UsingProvider(&fakeProvider{}),
	)
	require.Len(t, outcomes, 1)
	assert.Equal(t, ddns.StatusFailed, outcomes[0].Status)
	assert.ErrorContains(t, outcomes[0].Err, "is not inside zone")
}

func TestRunFixedIPIgnoresEchoConfig(t *testing.T) {
	p := &fakeProvider{zoneID: "Z1", record: ddns.Record{ID: "R1", Type: "A", Content: "8.8.8.8"}}
	site := testSite()
	site.IP = "9.9.9.9"
	cfg := ddns.Config{
		Sites:  []ddns.Site{site},
		IPEcho: []string{"ftp://echo.example.com/ip", "not a url at all"},
	}

	outcomes := ddns.Run(context.Background(), cfg, nil, ddns.UsingProvider(p))
	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, ddns.StatusUpdated, outcomes[0].Status)
	require.Len(t, p.updates, 1)
	assert.Equal(t, "9.9.9.9", p.updates[0].Content)
}

func TestRunZoneLookupsAreNotSharedAcrossKeys(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.validKeys = []string{"secret-key"}
	api.zones["example.com"] = []string{"Z1"}
	api.records["Z1"] = []apiRecord{
		{ID: "R1", Type: "A", Name: "a.example.com", Content: "1.1.1.1"},
		{ID: "R2", Type: "A", Name: "b.example.com", Content: "1.1.1.1"},
	}

	wrongKey := siteFor("b.example.com")
	wrongKey.APIKey = "stale-key"
	cfg := ddns.Config{
		Sites:  []ddns.Site{siteFor("a.example.com"), wrongKey},
		APIURL: srv.URL,
	}
	outcomes := ddns.Run(context.Background(), cfg, nil, ddns.UsingResolver(ddns.FromString("1.1.1.1")))
	require.Len(t, outcomes, 2)
	assert.Equal(t, ddns.StatusUnchanged, outcomes[0].Status)
	assert.Equal(t, ddns.StatusFailed, outcomes[1].Status)
	assert.ErrorIs(t, outcomes[1].Err, ddns.ErrZoneNotFound)

	var zoneLookups int
	for _, r := range api.requestsMatching(http.MethodGet) {
		if r.Path == "/zones" {
			zoneLookups++
		}
	}
	assert.Equal(t, 2, zoneLookups)
}
