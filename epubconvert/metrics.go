package epubconvert

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync/atomic"
)

type MetricsCounter struct {
	TotalPackages       atomic.Int64 `metric:"epubconvert_packages_total"`
	TotalSucceeded      atomic.Int64 `metric:"epubconvert_packages_succeeded_total"`
	TotalFailed         atomic.Int64 `metric:"epubconvert_packages_failed_total"`
	TotalEntriesWritten atomic.Int64 `metric:"epubconvert_entries_written_total"`
	TotalEntriesSkipped atomic.Int64 `metric:"epubconvert_entries_skipped_total"`
	TotalBytesRead      atomic.Int64 `metric:"epubconvert_read_bytes_total"`
	TotalBytesUploaded  atomic.Int64 `metric:"epubconvert_uploaded_bytes_total"`
}

// render the metrics in a prometheus compatible format
func (m *MetricsCounter) RenderMetrics(config *Config) string {
	var metrics strings.Builder

	valueOfMetrics := reflect.ValueOf(m).Elem()

	hostname := config.MetricsHost
	if hostname == "" {
		hostname, _ = os.Hostname()
	}

	for i := 0; i < valueOfMetrics.NumField(); i++ {
		metricTag := valueOfMetrics.Type().Field(i).Tag.Get("metric")
		if metricTag == "" {
			continue
		}
		fieldValue := valueOfMetrics.Field(i).Addr().Interface().(*atomic.Int64).Load()

		metrics.WriteString(fmt.Sprintf("%s{host=\"%s\"} %v\n", metricTag, hostname, fieldValue))
	}

	return metrics.String()
}

// WriteMetrics stores the rendered metrics in fname, for node_exporter's textfile collector
func (m *MetricsCounter) WriteMetrics(config *Config, fname string) error {
	return os.WriteFile(fname, []byte(m.RenderMetrics(config)), 0o644)
}
