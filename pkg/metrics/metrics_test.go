package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithRegistry(registry))

			Convey("Then it uses the profiler namespace", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "profiler")
				So(manager.RefreshInterval(), ShouldEqual, defaultRefreshInterval)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNames("test_ns", "test_sub"),
				WithMetricPrefix("pfx"),
				WithLatencyBuckets(0.1, 0.5, 1.0),
				WithRefreshInterval(5*time.Second),
				WithConstLabels(map[string]string{"env": "test"}),
				WithRegistry(registry),
			)
			manager.versionsCommitted.Inc()

			Convey("Then names and labels follow the options", func() {
				So(manager.RefreshInterval(), ShouldEqual, 5*time.Second)
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_ns_test_sub_pfx_classification_versions_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "test")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When metrics are disabled", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithRegistry(registry), WithExport(false))
			manager.versionsCommitted.Inc()

			Convey("Then nothing is registered on the supplied registry", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldEqual, 0)
			})
		})
	})
}

func TestClassificationMetrics(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When a version is committed", func() {
			before := testutil.ToFloat64(globalManager.versionsCommitted)
			primaryBefore := testutil.ToFloat64(globalManager.assignments.WithLabelValues("primary", "visual_learner"))
			lowBefore := testutil.ToFloat64(globalManager.lowConfidence)

			RecordVersionCommitted("visual_learner", "logical_learner", true, true)

			Convey("Then counters advance", func() {
				So(testutil.ToFloat64(globalManager.versionsCommitted), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.assignments.WithLabelValues("primary", "visual_learner")), ShouldEqual, primaryBefore+1)
				So(testutil.ToFloat64(globalManager.lowConfidence), ShouldEqual, lowBefore+1)
			})
		})

		Convey("When recomputations finish", func() {
			before := testutil.ToFloat64(globalManager.recomputations.WithLabelValues(OutcomeNoData))
			RecordRecomputation(OutcomeNoData, 1.5)
			So(testutil.ToFloat64(globalManager.recomputations.WithLabelValues(OutcomeNoData)), ShouldEqual, before+1)
		})

		Convey("When gauges are updated", func() {
			UpdateStudentsClassified(42)
			UpdateOpenFailures(3)
			So(testutil.ToFloat64(globalManager.studentsClassified), ShouldEqual, 42)
			So(testutil.ToFloat64(globalManager.openFailures), ShouldEqual, 3)
		})

		Convey("When other recorders are called", func() {
			So(func() {
				RecordSubmissionReceived("cognitive")
				RecordSubmissionDuplicate()
				RecordStaleWriteRetry()
				RecordConfigMismatch()
				RecordNotificationSent("log")
				RecordNotificationFailure("webhook")
			}, ShouldNotPanic)
		})
	})
}

func TestOperationalMetrics(t *testing.T) {
	Convey("Given operational recorders", t, func() {
		Convey("When repository errors are recorded", func() {
			before := testutil.ToFloat64(globalManager.repositoryErrors.WithLabelValues("get_current"))
			RecordRepositoryOperation("get_current", 0.2, nil)
			RecordRepositoryOperation("get_current", 0.2, errors.New("boom"))
			So(testutil.ToFloat64(globalManager.repositoryErrors.WithLabelValues("get_current")), ShouldEqual, before+1)
		})

		Convey("When queue and worker metrics are updated", func() {
			So(func() {
				UpdateQueueSize(10)
				UpdateQueueCapacity(100)
				UpdateQueueUtilization(0.1)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				UpdateWorkerPartitions(8)
				UpdateWorkerActiveCount(2)
				RecordWorkerProcessingLatency(3)
				RecordWorkerError()
				UpdateRepositoryShardCount(16)
				RecordHTTPRequest("/stats", "GET", "200")
				RecordHTTPRequestDuration("/stats", "GET", "200", 1)
				RecordErrorByComponent("worker", "internal")
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.queueCapacity), ShouldEqual, 100)
		})

		Convey("When the registry is gathered", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			So(len(families), ShouldBeGreaterThan, 0)
			for _, f := range families {
				So(strings.HasPrefix(f.GetName(), "profiler_engine_"), ShouldBeTrue)
			}
		})

		Convey("Since reports elapsed milliseconds", func() {
			So(Since(time.Now().Add(-5*time.Millisecond)), ShouldBeGreaterThanOrEqualTo, 5)
		})
	})
}

func TestRuntimeCollectors(t *testing.T) {
	Convey("Given runtime collectors", t, func() {
		Convey("When they are registered twice", func() {
			So(func() {
				RegisterRuntimeCollectors()
				RegisterRuntimeCollectors()
			}, ShouldNotPanic)

			Convey("Then go runtime metrics are exported", func() {
				families, err := GetRegistry().Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "go_goroutines" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}
