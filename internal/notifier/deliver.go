package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"caseobserver/internal/eventbus"
	"caseobserver/internal/task/engine"
	logx "caseobserver/pkg/logx"
)

// work sends deliveries until the queue is closed and drained.
func (s *Service) work(ctx context.Context, queue <-chan Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-queue:
			if !ok {
				return nil
			}
			s.deliver(ctx, d)
		}
	}
}

func (s *Service) deliver(ctx context.Context, d Delivery) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	limit := 1 + cfg.RetryMax
	var err error
	n := 0
	for n < limit {
		n++
		if err = lim.Wait(ctx); err != nil {
			break
		}
		sendCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err = s.send(sendCtx, d)
		cancel()
		if err == nil {
			s.sent.Add(1)
			s.remember(d, n, nil)
			s.publish(eventbus.TypeDeliverySent, d, n, nil)
			return
		}
		s.log.Debug("delivery attempt failed", logx.String("channel", string(d.Channel)), logx.Int("attempt", n), logx.Int("limit", limit), logx.Err(err))
		if engine.IsNoRetry(err) || n == limit {
			break
		}
		if !sleepCtx(ctx, backoff(cfg, n)) {
			err = errors.Join(ctx.Err(), err)
			break
		}
	}

	err = engine.Unwrapped(err)
	s.failed.Add(1)
	s.remember(d, n, err)
	s.log.Warn("delivery failed",
		logx.String("channel", string(d.Channel)),
		logx.String("notification_id", d.NotificationID),
		logx.String("case_id", d.CaseID),
		logx.Int("attempts", n),
		logx.Err(err),
	)
	s.publish(eventbus.TypeDeliveryFailed, d, n, err)
}

func (s *Service) send(ctx context.Context, d Delivery) error {
	switch d.Channel {
	case ChannelEmail:
		if s.email == nil {
			return engine.NoRetry(errors.New("no email sender configured"))
		}
		return s.email.SendEmail(ctx, d.To, d.Subject, d.Body)
	case ChannelSMS:
		if s.sms == nil {
			return engine.NoRetry(errors.New("no sms sender configured"))
		}
		return s.sms.SendSMS(ctx, d.To, d.Body)
	}
	return engine.NoRetry(fmt.Errorf("unknown channel %q", d.Channel))
}

// backoff is RetryBase doubled per failed attempt, capped at RetryMaxDelay
// and scaled by a random factor in [0.7, 1.3).
func backoff(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(min(d, cfg.RetryMaxDelay)) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
