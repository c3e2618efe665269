// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bytesDownloaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediagrab_bytes_downloaded_total",
		Help: "Total bytes written to disk by platform",
	}, []string{"platform"})

	transferRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediagrab_transfer_retries_total",
		Help: "Total transfer retry attempts by platform",
	}, []string{"platform"})

	transferResumes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediagrab_transfer_resumes_total",
		Help: "Total ranged resumes from a partial file by platform",
	}, []string{"platform"})

	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediagrab_resolutions_total",
		Help: "Total media resolution attempts by platform and result",
	}, []string{"platform", "result"})
)

// AddBytesDownloaded accumulates bytes persisted for a platform.
func AddBytesDownloaded(platform string, n int64) {
	if n <= 0 {
		return
	}
	bytesDownloaded.WithLabelValues(platform).Add(float64(n))
}

// IncTransferRetry counts one transfer retry.
func IncTransferRetry(platform string) {
	transferRetries.WithLabelValues(platform).Inc()
}

// IncTransferResume counts one ranged resume.
func IncTransferResume(platform string) {
	transferResumes.WithLabelValues(platform).Inc()
}

// RecordResolution counts one resolver call with its result ("ok" or "error").
func RecordResolution(platform, result string) {
	resolutionsTotal.WithLabelValues(platform, result).Inc()
}
