package promclient

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var OpenOrderBookGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "okx_open_order_book",
		Help: "number of locally maintained okx order books",
	},
)

var ReconnectCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "okx_ws_reconnects_total",
		Help: "forced websocket reconnect cycles",
	},
)

var ChecksumMismatchCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "okx_book_checksum_mismatches_total",
		Help: "order book frames whose checksum did not match the local book",
	},
)

var DroppedUpdateCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "okx_sync_dropped_updates_total",
		Help: "messages dropped on synchronizer buffer overflow",
	},
)

func StartPromClientServer(addr string) {
	reg := prometheus.NewRegistry()
	promHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	reg.MustRegister(OpenOrderBookGauge)
	reg.MustRegister(ReconnectCounter)
	reg.MustRegister(ChecksumMismatchCounter)
	reg.MustRegister(DroppedUpdateCounter)
	reg.MustRegister(collectors.NewGoCollector())

	http.Handle("/metrics", promHandler)
	log.Printf("prometheus server listening at %s", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
