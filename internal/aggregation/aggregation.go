// Package aggregation answers the read-side queries behind the HTTP
// façade (spec §4.J): per-federation summaries, activity histograms,
// UTXO listings, cross-federation totals and ratings. It is a thin
// formatting/zero-filling layer over internal/store's SQL and
// internal/health's pure rollup, the same separation the teacher keeps
// between internal/db's raw queries and internal/api's response shaping.
package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/fedobserver/internal/federationreg"
	"github.com/rawblock/fedobserver/internal/fedtypes"
	"github.com/rawblock/fedobserver/internal/health"
	"github.com/rawblock/fedobserver/internal/store"
	"github.com/sirupsen/logrus"
)

type Service struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// FederationSummary backs GET /federations/{id} (spec §4.J): name resolved
// from the config's meta map, current on-chain assets as the running
// difference of peg-ins minus pending/confirmed peg-outs, latest rolled-up
// health, and Nostr rating if any vote has been recorded.
type FederationSummary struct {
	FederationID      fedtypes.FederationID
	Name              string
	SessionCount      uint64
	TransactionCount  uint64
	PegInTotalMsat    int64
	PegOutTotalMsat   int64
	CurrentAssetsMsat int64
	Health            fedtypes.FederationHealth
	RatingAverage     float64
	RatingCount       int
}

func (s *Service) FederationSummary(ctx context.Context, fed fedtypes.FederationID) (FederationSummary, error) {
	f, err := store.GetFederation(ctx, s.pool, fed)
	if err != nil {
		return FederationSummary{}, err
	}

	meta, err := federationreg.MetaFromConfig(f.Config)
	if err != nil {
		return FederationSummary{}, fmt.Errorf("read meta for %s: %w", fed, err)
	}
	name := meta["name"]
	if name == "" {
		name = fed.String()
	}

	row, err := store.FederationSummary(ctx, s.pool, fed)
	if err != nil {
		return FederationSummary{}, err
	}

	fedHealth, err := s.FederationHealth(ctx, fed)
	if err != nil {
		return FederationSummary{}, err
	}

	avg, count, err := store.AverageRating(ctx, s.pool, fed)
	if err != nil {
		return FederationSummary{}, err
	}

	return FederationSummary{
		FederationID:      fed,
		Name:              name,
		SessionCount:      row.SessionCount,
		TransactionCount:  row.TransactionCount,
		PegInTotalMsat:    row.PegInTotalMsat,
		PegOutTotalMsat:   row.PegOutTotalMsat,
		CurrentAssetsMsat: row.PegInTotalMsat - row.PegOutTotalMsat,
		Health:            fedHealth,
		RatingAverage:     avg,
		RatingCount:       count,
	}, nil
}

// FederationHealth rolls up the latest poll of every known guardian into
// one federation-level classification (spec §4.G/§4.J).
func (s *Service) FederationHealth(ctx context.Context, fed fedtypes.FederationID) (fedtypes.FederationHealth, error) {
	rows, err := store.LatestGuardianHealth(ctx, s.pool, fed)
	if err != nil {
		return fedtypes.HealthOffline, err
	}
	reachable := make([]bool, len(rows))
	for i, r := range rows {
		reachable[i] = r.Reachable
	}
	return health.RollupFederationHealth(reachable), nil
}

// GuardianHealthView is one peer's row for GET /federations/{id}/health:
// the latest poll plus the 30-day uptime/latency rollup and the per-peer
// outdated flags derived from it (spec §4.G "derive per-peer outdated
// flags").
type GuardianHealthView struct {
	store.GuardianHealthRow
	BlockOutdated   bool
	SessionOutdated bool
}

// GuardianHealth backs GET /federations/{id}/health (spec §4.G/§4.J): each
// peer's latest poll and 30-day rollup come straight from
// store.LatestGuardianHealth, with BlockOutdated/SessionOutdated derived
// here against the federation's best-known chain tip and session index
// (the maximum block_count/session_count reported by any peer this round),
// since no single peer's own report can be trusted as the reference point.
func (s *Service) GuardianHealth(ctx context.Context, fed fedtypes.FederationID) ([]GuardianHealthView, error) {
	rows, err := store.LatestGuardianHealth(ctx, s.pool, fed)
	if err != nil {
		return nil, err
	}

	var bestBlock, maxSession uint64
	for _, r := range rows {
		if r.BlockCount != nil && *r.BlockCount > bestBlock {
			bestBlock = *r.BlockCount
		}
		if r.SessionCount != nil && *r.SessionCount > maxSession {
			maxSession = *r.SessionCount
		}
	}

	views := make([]GuardianHealthView, len(rows))
	for i, r := range rows {
		v := GuardianHealthView{GuardianHealthRow: r}
		if r.BlockCount != nil {
			v.BlockOutdated = health.BlockOutdated(bestBlock, *r.BlockCount)
		}
		if r.SessionCount != nil {
			v.SessionOutdated = health.SessionOutdated(maxSession, *r.SessionCount)
		}
		views[i] = v
	}
	return views, nil
}

// ActivityDay is one zero-filled day in GET /federations/{id}/activity.
type ActivityDay struct {
	Day       time.Time
	TxCount   int64
	PegInMsat int64
}

// FederationActivity returns a dense, newest-last series covering exactly
// `days` calendar days up to and including today, filling gaps with zero
// rows (spec §4.J "activity is dense; the caller, not the query, decides
// the day range").
func (s *Service) FederationActivity(ctx context.Context, fed fedtypes.FederationID, days int) ([]ActivityDay, error) {
	if days <= 0 {
		days = 7
	}
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -(days - 1)).Truncate(24 * time.Hour)

	rows, err := store.ActivityByDay(ctx, s.pool, fed, since)
	if err != nil {
		return nil, err
	}
	return zeroFillActivity(since, days, rows), nil
}

// zeroFillActivity is split out from FederationActivity so the day-range
// bookkeeping is unit testable without a database.
func zeroFillActivity(since time.Time, days int, rows []store.ActivityDayRow) []ActivityDay {
	byDay := make(map[string]store.ActivityDayRow, len(rows))
	for _, r := range rows {
		byDay[r.Day.Format("2006-01-02")] = r
	}

	out := make([]ActivityDay, 0, days)
	for i := 0; i < days; i++ {
		day := since.AddDate(0, 0, i)
		key := day.Format("2006-01-02")
		if r, ok := byDay[key]; ok {
			out = append(out, ActivityDay{Day: day, TxCount: r.TxCount, PegInMsat: r.PegInMsat})
		} else {
			out = append(out, ActivityDay{Day: day})
		}
	}
	return out
}

func (s *Service) UTXOs(ctx context.Context, fed fedtypes.FederationID) ([]store.UTXORow, error) {
	return store.ListUTXOs(ctx, s.pool, fed)
}

func (s *Service) Rating(ctx context.Context, fed fedtypes.FederationID) (average float64, count int, err error) {
	return store.AverageRating(ctx, s.pool, fed)
}

// Totals backs GET /federations/totals (spec §4.J): "global federation
// count (excluding offline)" means the count and sums only ever reflect
// federations whose latest guardian poll rolls up to Online or Degraded —
// an Offline federation is presumed unreachable and its (possibly stale)
// on-chain totals would misrepresent current state, so it drops out of
// both the count and the sums rather than just the count.
type Totals struct {
	FederationCount  int64
	TransactionCount uint64
	PegInTotalMsat   int64
	PegOutTotalMsat  int64
}

func (s *Service) Totals(ctx context.Context, log *logrus.Entry) (Totals, error) {
	feds, err := store.ListFederations(ctx, s.pool)
	if err != nil {
		return Totals{}, err
	}

	var out Totals
	for _, f := range feds {
		fedHealth, err := s.FederationHealth(ctx, f.ID)
		if err != nil {
			if log != nil {
				log.WithError(err).WithField("federation", f.ID.String()).Warn("totals: health lookup failed, excluding")
			}
			continue
		}
		if fedHealth == fedtypes.HealthOffline {
			continue
		}

		row, err := store.FederationSummary(ctx, s.pool, f.ID)
		if err != nil {
			if log != nil {
				log.WithError(err).WithField("federation", f.ID.String()).Warn("totals: summary lookup failed, excluding")
			}
			continue
		}

		out.FederationCount++
		out.TransactionCount += row.TransactionCount
		out.PegInTotalMsat += row.PegInTotalMsat
		out.PegOutTotalMsat += row.PegOutTotalMsat
	}
	return out, nil
}
