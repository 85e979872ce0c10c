package batcher

import (
	"math/rand"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/code19m/errx"
)

// maxRetryAttempts bounds how often one batch is sent before it is dropped.
const maxRetryAttempts = 3

// errCodePermanent marks client errors the collector will never accept on
// retry.
const errCodePermanent = "EXPORT_REJECTED"

// sendWithRetry pushes one batch through its exporter, retrying transient
// failures with exponential backoff and jitter. Client errors (4xx) are
// permanent and fail immediately; a disabled exporter discards the batch,
// which reports true without counting it as sent. Reports whether the
// batch was delivered.
func (s *Sender) sendWithRetry(b batch) bool {
	var lastStatus int
	permanent := false
	skipped := false

	attempt := func() error {
		status, success, disabled := s.export(b)
		if disabled {
			skipped = true
			return nil
		}
		if success {
			return nil
		}

		lastStatus = status

		if status >= 400 && status < 500 {
			permanent = true
			return retry.Unrecoverable(errx.New("collector rejected batch",
				errx.WithCode(errCodePermanent),
				errx.WithDetails(errx.D{"status": status, "kind": string(b.kind)}),
			))
		}

		return errx.New("batch export failed",
			errx.WithDetails(errx.D{"status": status, "kind": string(b.kind)}))
	}

	err := retry.Do(attempt,
		retry.Attempts(maxRetryAttempts),
		retry.LastErrorOnly(true),
		retry.DelayType(s.retryDelay),
		retry.OnRetry(func(n uint, err error) {
			s.log.With("kind", b.kind, "attempt", n+1, "error", err.Error()).
				Debug("retrying batch export")
		}),
	)
	if err != nil {
		s.stats.incFailed(b.kind)

		log := s.log.With("kind", b.kind, "items", b.size(), "status", lastStatus)
		if permanent {
			log.Warnf("batch rejected with client error %d, not retried", lastStatus)
		} else {
			log.Errorf("batch dropped after %d attempts", maxRetryAttempts)
		}
		return false
	}

	// A disabled exporter discards the batch without touching the sent
	// counter.
	if skipped {
		return true
	}

	s.stats.addSent(b.kind, uint64(b.size()))
	return true
}

// export runs the kind-appropriate exporter. The third return reports a
// disabled exporter (nil result), which counts as neither success nor
// failure.
func (s *Sender) export(b batch) (status int, success, disabled bool) {
	switch b.kind {
	case KindSpan:
		res := s.spanExp.Export(b.spans)
		if res == nil {
			return 0, false, true
		}
		return res.Status, res.Success, false
	case KindError:
		res := s.errExp.ExportBatch(b.errors)
		if res == nil {
			return 0, false, true
		}
		return res.Status, res.Success, false
	default:
		return 0, false, true
	}
}

// retryDelay implements the backoff schedule: base * 2^(attempt-1) plus
// uniform jitter of up to 10 % of the delay. It runs exactly once per
// actual wait, so it also feeds the retries counter.
func (s *Sender) retryDelay(n uint, _ error, _ *retry.Config) time.Duration {
	delay := s.cfg.BaseRetryDelay << n

	maxJitter := int64(delay / 10)
	if maxJitter > 0 {
		delay += time.Duration(rand.Int63n(maxJitter + 1)) //nolint:gosec // jitter needs no crypto strength
	}

	s.stats.incRetries()
	return delay
}
