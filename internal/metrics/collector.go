// ABOUTME: Scrape-time collector translating pool.Stats and the session registry into metrics
// ABOUTME: Counters from the pool are exported as const metrics so they never drift from the source

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type collector struct {
	pool     PoolSource
	sessions SessionSource

	size      *prometheus.Desc
	slots     *prometheus.Desc
	bound     *prometheus.Desc
	available *prometheus.Desc
	ops       *prometheus.Desc
	active    *prometheus.Desc
}

func newCollector(p PoolSource, s SessionSource) *collector {
	return &collector{
		pool:     p,
		sessions: s,
		size: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "size"),
			"Configured number of backend slots.", nil, nil),
		slots: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "slots"),
			"Backend pool slots by link state.", []string{"state"}, nil),
		bound: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "bound"),
			"Slots currently bound to a session.", nil, nil),
		available: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "available"),
			"Open slots waiting in the availability queue.", nil, nil),
		ops: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "operations_total"),
			"Pool operations by kind.", []string{"op"}, nil),
		active: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "sessions_active"),
			"Client sessions currently registered.", nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.slots
	ch <- c.bound
	ch <- c.available
	ch <- c.ops
	ch <- c.active
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	if c.pool != nil {
		st := c.pool.Stats()
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(st.Size))
		ch <- prometheus.MustNewConstMetric(c.slots, prometheus.GaugeValue, float64(st.Open), "open")
		ch <- prometheus.MustNewConstMetric(c.slots, prometheus.GaugeValue, float64(st.Closed), "closed")
		ch <- prometheus.MustNewConstMetric(c.slots, prometheus.GaugeValue, float64(st.Unconnected), "unconnected")
		ch <- prometheus.MustNewConstMetric(c.bound, prometheus.GaugeValue, float64(st.Bound))
		ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, float64(st.Available))
		for op, v := range map[string]uint64{
			"acquired": st.Acquired,
			"rejected": st.Rejected,
			"released": st.Released,
			"evicted":  st.Evicted,
			"redialed": st.Redialed,
		} {
			ch <- prometheus.MustNewConstMetric(c.ops, prometheus.CounterValue, float64(v), op)
		}
	}
	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(c.sessions.Len()))
	}
}
