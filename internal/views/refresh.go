// Package views runs the materialized-view refresh loop (spec §4.I).
// Unlike the other singleton loops, a failed refresh is logged and the
// loop continues on its normal schedule rather than restarting early —
// a stale view is a read-path inconvenience, not a correctness problem
// worth escalating into a task restart.
package views

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const refreshInterval = 60 * time.Second

// Refresher is the subset of *store.Store this loop needs.
type Refresher interface {
	RefreshViews(ctx context.Context) error
}

type Loop struct {
	store Refresher
	log   *logrus.Entry
}

func New(store Refresher, log *logrus.Entry) *Loop {
	return &Loop{store: store, log: log.WithField("component", "views")}
}

func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		if err := l.store.RefreshViews(ctx); err != nil {
			l.log.WithError(err).Error("materialized view refresh failed, will retry next tick")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
