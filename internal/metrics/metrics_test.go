package metrics

import (
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegister_AttachesAllCollectors(t *testing.T) {
	// Given a fresh registry
	reg := prometheus.NewRegistry()

	// When the package collectors are registered
	require.NotPanics(t, func() {
		Register(reg)
	})

	// Then every metric family is gatherable once touched
	UpdateResults.WithLabelValues("documents_addition", "processed").Inc()
	UpdateDuration.WithLabelValues("documents_addition").Observe(0.2)
	PendingUpdates.Set(3)
	Searches.WithLabelValues("movies").Inc()
	SearchDuration.WithLabelValues("movies").Observe(0.01)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(families), 5)
}

func TestUpdateResults_CountsByTypeAndStatus(t *testing.T) {
	// Given a terminal status recorded twice for one update type
	c := UpdateResults.WithLabelValues("clear_documents", "failed")
	before := testutil.ToFloat64(c)

	// When two more results land
	c.Inc()
	c.Inc()

	// Then the counter reflects both
	require.Equal(t, before+2, testutil.ToFloat64(c))
}

func TestPendingUpdates_TracksQueueDepth(t *testing.T) {
	// Given an empty queue
	PendingUpdates.Set(0)

	// When updates are enqueued and drained
	PendingUpdates.Inc()
	PendingUpdates.Inc()
	PendingUpdates.Dec()

	// Then the gauge shows the remaining depth
	require.Equal(t, float64(1), testutil.ToFloat64(PendingUpdates))
}

func TestForgetIndex_DropsLabelSeries(t *testing.T) {
	// Given recorded searches for an index
	Searches.WithLabelValues("forgetme").Add(4)
	SearchDuration.WithLabelValues("forgetme").Observe(0.5)

	// When the index series is forgotten
	ForgetIndex("forgetme")

	// Then a fresh child starts from zero
	require.Equal(t, float64(0), testutil.ToFloat64(Searches.WithLabelValues("forgetme")))
}

func TestStoreCollector_ScrapesLiveDatabase(t *testing.T) {
	// Given an open pebble database with some data
	db, err := pebble.Open(t.TempDir(), &pebble.Options{})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Set([]byte("k"), []byte("v"), pebble.Sync))

	// When the collector is scraped
	sc := NewStoreCollector(db)

	// Then every descriptor yields exactly one metric
	require.Equal(t, 8, testutil.CollectAndCount(sc))
	require.Equal(t, 1, testutil.CollectAndCount(sc, "stela_update_log_disk_usage_bytes"))
}
