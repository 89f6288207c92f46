package metrics

import (
	"time"

	"github.com/cuemby/fetch/pkg/store"
)

// Collector periodically samples the store and publishes gauge metrics from
// it. The CLI starts one only when --metrics-addr is set.
type Collector struct {
	store  store.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over st.
func NewCollector(st store.Store) *Collector {
	return &Collector{
		store:  st,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

// collect samples the store and doubles as its liveness probe: every
// tick that FindResourceByGlob succeeds marks "store" healthy in the
// health checker, and every tick it fails marks it unhealthy with the
// error as the message — the same signal a caller hitting /ready would
// otherwise have no way to observe between task invocations.
func (c *Collector) collect() {
	resources, err := c.store.FindResourceByGlob("*")
	if err != nil {
		UpdateComponent("store", false, err.Error())
		return
	}
	UpdateComponent("store", true, "")

	counts := make(map[string]int)
	for _, res := range resources {
		counts[string(res.Action)]++
	}
	for action, count := range counts {
		ResourcesTotal.WithLabelValues(action).Set(float64(count))
	}
}
