package metrics

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

// StoreCollector exposes the health of the pebble database backing
// the update log. Values are read from pebble's own metrics on every
// scrape, so the collector holds no state beyond the handle.
type StoreCollector struct {
	db *pebble.DB

	flushes         *prometheus.Desc
	compactions     *prometheus.Desc
	compactionDebt  *prometheus.Desc
	memtableSize    *prometheus.Desc
	memtableCount   *prometheus.Desc
	walSize         *prometheus.Desc
	walBytesWritten *prometheus.Desc
	diskUsage       *prometheus.Desc
}

var _ prometheus.Collector = (*StoreCollector)(nil)

func NewStoreCollector(db *pebble.DB) *StoreCollector {
	return &StoreCollector{
		db: db,

		flushes: prometheus.NewDesc(
			"stela_update_log_flushes_total",
			"Total number of memtable flushes",
			nil, nil,
		),
		compactions: prometheus.NewDesc(
			"stela_update_log_compactions_total",
			"Total number of compactions performed",
			nil, nil,
		),
		compactionDebt: prometheus.NewDesc(
			"stela_update_log_compaction_debt_bytes",
			"Estimated number of bytes to compact to reach a stable state",
			nil, nil,
		),
		memtableSize: prometheus.NewDesc(
			"stela_update_log_memtable_size_bytes",
			"Current size of the memtable in bytes",
			nil, nil,
		),
		memtableCount: prometheus.NewDesc(
			"stela_update_log_memtable_count",
			"Current count of memtables",
			nil, nil,
		),
		walSize: prometheus.NewDesc(
			"stela_update_log_wal_size_bytes",
			"Size of live WAL data in bytes",
			nil, nil,
		),
		walBytesWritten: prometheus.NewDesc(
			"stela_update_log_wal_bytes_written_total",
			"Total physical bytes written to the WAL",
			nil, nil,
		),
		diskUsage: prometheus.NewDesc(
			"stela_update_log_disk_usage_bytes",
			"Total disk space used by the update log",
			nil, nil,
		),
	}
}

func (sc *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sc.flushes
	ch <- sc.compactions
	ch <- sc.compactionDebt
	ch <- sc.memtableSize
	ch <- sc.memtableCount
	ch <- sc.walSize
	ch <- sc.walBytesWritten
	ch <- sc.diskUsage
}

func (sc *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	m := sc.db.Metrics()

	ch <- prometheus.MustNewConstMetric(
		sc.flushes,
		prometheus.CounterValue,
		float64(m.Flush.Count),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.compactions,
		prometheus.CounterValue,
		float64(m.Compact.Count),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.compactionDebt,
		prometheus.GaugeValue,
		float64(m.Compact.EstimatedDebt),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.memtableSize,
		prometheus.GaugeValue,
		float64(m.MemTable.Size),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.memtableCount,
		prometheus.GaugeValue,
		float64(m.MemTable.Count),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.walSize,
		prometheus.GaugeValue,
		float64(m.WAL.Size),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.walBytesWritten,
		prometheus.CounterValue,
		float64(m.WAL.BytesWritten),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.diskUsage,
		prometheus.GaugeValue,
		float64(m.DiskSpaceUsage()),
	)
}
