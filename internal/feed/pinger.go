// Package feed tells an external feed aggregator that the site changed.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"forum/api/internal/logger"

	"github.com/redis/go-redis/v9"
)

const (
	KeyPingThrottle = "forum:feed:ping"
	sinkName        = "feed"
)

type recorder interface {
	Notification(sink, result string)
}

type Options struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
}

// Pinger sends at most one ping per Interval across all replicas. The
// throttle lives in Redis; without a client every Ping goes out.
type Pinger struct {
	opts    Options
	client  *redis.Client
	http    *http.Client
	log     logger.Logger
	metrics recorder
	wg      sync.WaitGroup
}

func NewPinger(opts Options, client *redis.Client, log logger.Logger, metrics recorder) *Pinger {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Pinger{
		opts:    opts,
		client:  client,
		http:    &http.Client{Timeout: opts.Timeout},
		log:     log,
		metrics: metrics,
	}
}

// Ping fires in the background and never reports failure to the caller.
func (p *Pinger) Ping() {
	if p.opts.URL == "" {
		p.record("skipped")
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.Timeout)
		defer cancel()

		sent, err := p.ping(ctx)
		switch {
		case err != nil:
			p.log.Warn("feed ping failed", logger.String("url", p.opts.URL), logger.Error(err))
			p.record("error")
		case !sent:
			p.record("throttled")
		default:
			p.record("ok")
		}
	}()
}

func (p *Pinger) ping(ctx context.Context) (bool, error) {
	holdsKey := false
	if p.client != nil && p.opts.Interval > 0 {
		acquired, err := p.client.SetNX(ctx, KeyPingThrottle, time.Now().Unix(), p.opts.Interval).Result()
		if err != nil {
			p.log.Debug("feed throttle unavailable, pinging anyway", logger.Error(err))
		} else if !acquired {
			return false, nil
		}
		holdsKey = err == nil
	}

	if err := p.send(ctx); err != nil {
		if holdsKey {
			p.release(ctx)
		}
		return false, err
	}
	return true, nil
}

func (p *Pinger) send(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("send ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ping returned %s", resp.Status)
	}
	return nil
}

// release drops the throttle key so the next commit retries a failed ping.
func (p *Pinger) release(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := p.client.Del(ctx, KeyPingThrottle).Err(); err != nil {
		p.log.Debug("feed throttle release failed", logger.Error(err))
	}
}

// Wait blocks until pending pings finish.
func (p *Pinger) Wait() {
	p.wg.Wait()
}

func (p *Pinger) record(result string) {
	if p.metrics != nil {
		p.metrics.Notification(sinkName, result)
	}
}
