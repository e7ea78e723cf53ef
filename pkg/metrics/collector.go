// Package metrics exports entity values as Prometheus metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/raterudder/evccbridge/pkg/entity"
	"github.com/raterudder/evccbridge/pkg/types"
)

// Entities lists the entities to export.
type Entities interface {
	All() []entity.Entity
}

// Status reports the health of the bridge.
type Status interface {
	Healthy() bool
	StreamState() string
	Flags() types.SchemaFlags
}

// Collector implements prometheus.Collector over an entity registry.
type Collector struct {
	entities Entities
	status   Status

	value     *prometheus.Desc
	up        *prometheus.Desc
	streaming *prometheus.Desc
	info      *prometheus.Desc
}

// NewCollector creates a collector. Values are resolved on every scrape.
func NewCollector(entities Entities, status Status) *Collector {
	return &Collector{
		entities: entities,
		status:   status,
		value: prometheus.NewDesc(
			"evcc_entity_value",
			"Current value of a numeric or boolean entity (booleans are 1 or 0)",
			[]string{"entity", "tag", "scope", "index", "unit"},
			nil,
		),
		up: prometheus.NewDesc(
			"evcc_up",
			"Whether the controller answered recently (1=yes, 0=no)",
			nil,
			nil,
		),
		streaming: prometheus.NewDesc(
			"evcc_stream_connected",
			"Whether the websocket stream is connected (1=yes, 0=no)",
			nil,
			nil,
		),
		info: prometheus.NewDesc(
			"evcc_info",
			"Controller information",
			[]string{"version", "grid_nested", "tariff_enabled"},
			nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.value
	ch <- c.up
	ch <- c.streaming
	ch <- c.info
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, boolToFloat(c.status.Healthy()))

	if state := c.status.StreamState(); state != "" {
		ch <- prometheus.MustNewConstMetric(c.streaming, prometheus.GaugeValue, boolToFloat(state == "connected"))
	}

	flags := c.status.Flags()
	ch <- prometheus.MustNewConstMetric(
		c.info,
		prometheus.GaugeValue,
		1,
		flags.ControllerVersion,
		strconv.FormatBool(flags.GridNested),
		strconv.FormatBool(flags.TariffEnabled),
	)

	for _, e := range c.entities.All() {
		v := e.CurrentValue()
		if !v.Present {
			continue
		}
		var f float64
		switch x := v.V.(type) {
		case bool:
			f = boolToFloat(x)
		case time.Time:
			f = float64(x.Unix())
		default:
			var ok bool
			if f, ok = v.Float(); !ok {
				continue
			}
		}
		md := e.Metadata()
		ch <- prometheus.MustNewConstMetric(
			c.value,
			prometheus.GaugeValue,
			f,
			e.ID(),
			string(md.Tag),
			md.Scope,
			strconv.Itoa(md.Index),
			md.Unit,
		)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
