package watcher

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	domainerrors "github.com/listenupapp/fen/internal/errors"
)

// errPathGone stops recovery when the path disappears while retrying.
var errPathGone = domainerrors.NotFoundf("watched path is no longer available")

// reopen recreates the native watch with exponential backoff. It gives up
// when the engine is disposed, when the path disappears again, or once the
// configured elapsed time has passed. No engine lock is held between
// attempts.
func (e *engine) reopen() error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.opts.Recovery.InitialInterval
	policy.MaxInterval = e.opts.Recovery.MaxInterval
	policy.MaxElapsedTime = e.opts.Recovery.MaxElapsedTime
	policy.Reset()

	attempt := 0
	op := func() error {
		attempt++
		if e.ctx.Err() != nil {
			return backoff.Permanent(domainerrors.Disposedf("engine for %s is disposed", e.path))
		}
		if !e.prober.Available(e.ctx, e.path) {
			return backoff.Permanent(errPathGone)
		}
		return e.openBackend()
	}

	notify := func(err error, next time.Duration) {
		e.logger.Debug("native watch not ready, retrying", "attempt", attempt, "retry_in", next, "error", err)
	}

	return backoff.RetryNotify(op, backoff.WithContext(policy, e.ctx), notify)
}
