package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	DefaultSchedule = "@every 30s"
	DefaultTimeout  = 5 * time.Second
)

// Prober periodically checks whether the authorization server answers
// and reports the result.
type Prober struct {
	url     string
	client  *http.Client
	timeout time.Duration
	report  func(reachable bool)
	logger  logrus.FieldLogger
	cron    *cron.Cron
}

type Option func(*Prober)

func WithHTTPClient(client *http.Client) Option {
	return func(p *Prober) {
		p.client = client
	}
}

func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		p.timeout = d
	}
}

// New creates a prober that checks url on the cron schedule and passes
// every result to report.
func New(url, schedule string, report func(reachable bool), logger logrus.FieldLogger, opts ...Option) (*Prober, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	p := &Prober{
		url:     url,
		client:  &http.Client{},
		timeout: DefaultTimeout,
		report:  report,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}

	cronLogger := cron.PrintfLogger(logger)
	p.cron = cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	if _, err := p.cron.AddFunc(schedule, func() { p.Check(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid probe schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Check probes once. Any HTTP answer below 500 counts as reachable.
func (p *Prober) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	reachable := false
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err == nil {
		var resp *http.Response
		resp, err = p.client.Do(req)
		if err == nil {
			resp.Body.Close()
			reachable = resp.StatusCode < http.StatusInternalServerError
		}
	}
	if err != nil {
		p.logger.WithError(err).Debug("auth server probe failed")
	}

	p.report(reachable)
	return reachable
}

// Trigger runs a check in the background.
func (p *Prober) Trigger() {
	go p.Check(context.Background())
}

// Run probes immediately and then on schedule until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	p.Check(ctx)
	p.cron.Start()
	<-ctx.Done()
	<-p.cron.Stop().Done()
	return nil
}
