package catalog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "catalog_artwork_refreshes_total",
	Help: "Artwork refreshes by category and result.",
}, []string{"category", "result"})
