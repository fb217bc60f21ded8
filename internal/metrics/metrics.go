// Package metrics exports per-group stats.Ring counters as Prometheus
// metrics (stats.Pool counters are not exported), grounded on SkynetNext-unified-access-gateway/internal/
// middleware/metrics.go's promauto CounterVec/GaugeVec/HistogramVec
// registration style.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pfq-io/pfq-go/group"
	"github.com/pfq-io/pfq-go/stats"
)

var (
	packetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pfq",
		Name:      "packets_total",
		Help:      "Packet counters by scope, id and stage.",
	}, []string{"scope", "id", "stage"})

	controlOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pfq",
		Name:      "control_op_duration_seconds",
		Help:      "Control-plane operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	groupMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pfq",
		Name:      "group_members",
		Help:      "Current member count per group.",
	}, []string{"gid"})
)

// ObserveControlOp records how long a control-plane operation took, for
// wrapping around control.Server methods.
func ObserveControlOp(op string, d time.Duration) {
	controlOpDuration.WithLabelValues(op).Observe(d.Seconds())
}

// publishRing writes one stats.Ring snapshot under scope/id.
func publishRing(scope, id string, s stats.Snapshot) {
	packetsTotal.WithLabelValues(scope, id, "recv").Add(float64(s.Recv))
	packetsTotal.WithLabelValues(scope, id, "lost").Add(float64(s.Lost))
	packetsTotal.WithLabelValues(scope, id, "drop").Add(float64(s.Drop))
	packetsTotal.WithLabelValues(scope, id, "sent").Add(float64(s.Sent))
	packetsTotal.WithLabelValues(scope, id, "disc").Add(float64(s.Disc))
	packetsTotal.WithLabelValues(scope, id, "frwd").Add(float64(s.Frwd))
	packetsTotal.WithLabelValues(scope, id, "kern").Add(float64(s.Kern))
}

// PublishGroups periodically snapshots every live group's stats into the
// packetsTotal CounterVec above, until ctx is cancelled. It does not set
// the groupMembers gauge. Because packetsTotal is a Counter, callers must not reuse a
// scope/id pair across process restarts in a way that would need the
// counter to decrease — Prometheus counters are monotonic, matching
// stats.Sparse's own monotonic semantics.
func PublishGroups(ctx context.Context, tbl *group.Table, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := make(map[int]stats.Snapshot)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, gid := range tbl.Groups() {
				g := tbl.Get(gid)
				if g == nil {
					continue
				}
				cur := g.Stats()
				prev := last[gid]
				diff := stats.Snapshot{
					Recv: cur.Recv - prev.Recv,
					Lost: cur.Lost - prev.Lost,
					Drop: cur.Drop - prev.Drop,
					Sent: cur.Sent - prev.Sent,
					Disc: cur.Disc - prev.Disc,
					Frwd: cur.Frwd - prev.Frwd,
					Kern: cur.Kern - prev.Kern,
				}
				publishRing("group", strconv.Itoa(gid), diff)
				last[gid] = cur
			}
		}
	}
}
