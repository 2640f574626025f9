// ABOUTME: Prometheus metrics for the character map

package database

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var charactersLoaded = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "worldgpt_characters",
	Help: "Characters held in memory by the database subsystem.",
})
