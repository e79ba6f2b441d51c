package ddns

import (
	"context"
	"fmt"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of reconciling one site.
type Outcome struct {
	Domain string
	Status Status
	// Err explains a StatusFailed outcome and is nil otherwise.
	Err error
}

// Run reconciles every site in cfg and returns one Outcome per site, in the order the sites were configured.
//
// Sites are independent: a failure in one is logged and recorded in its Outcome,
// and never prevents the others from running.
// Up to cfg.Workers sites are reconciled at once; each site's own steps always run in sequence.
//
// Options are applied to every site's client after the ones derived from cfg.
// A nil logger discards log output.
func Run(ctx context.Context, cfg Config, logger logrus.FieldLogger, options ...clientOption) []Outcome {
	if logger == nil {
		logger = discard
	}

	// zone IDs only live as long as this pass
	zones := cache.New(cache.NoExpiration, 0)
	base := []clientOption{
		UsingCloudflare(cfg.apiURL()),
		UsingWebResolver(cfg.ipEcho()...),
		WithLogger(logger),
		withZoneCache(zones),
	}
	opts := append(base, options...)

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)

	logger.WithField("sites", len(cfg.Sites)).Info("starting DDNS update")
	outcomes := make([]Outcome, len(cfg.Sites))
	for i, site := range cfg.Sites {
		i, site := i, site
		g.Go(func() error {
			o := runSite(ctx, site, opts)
			log := logger.WithFields(logrus.Fields{"domain": site.Domain, "status": o.Status})
			if o.Err != nil {
				log.WithError(o.Err).Error("site update failed")
			} else {
				log.Info("site update finished")
			}
			outcomes[i] = o
			return nil
		})
	}
	_ = g.Wait()

	counts := map[Status]int{}
	for _, o := range outcomes {
		counts[o.Status]++
	}
	logger.WithFields(logrus.Fields{
		"updated":   counts[StatusUpdated],
		"unchanged": counts[StatusUnchanged],
		"failed":    counts[StatusFailed],
	}).Info("DDNS update finished")
	return outcomes
}

func runSite(ctx context.Context, site Site, options []clientOption) (o Outcome) {
	o = Outcome{Domain: site.Domain, Status: StatusFailed}
	defer func() {
		if r := recover(); r != nil {
			o.Status = StatusFailed
			o.Err = fmt.Errorf("panic while updating %s: %v", site.Domain, r)
		}
	}()

	c, err := New(site, options...)
	if err != nil {
		o.Err = err
		return o
	}
	o.Status, o.Err = c.RunDDNS(ctx)
	return o
}
