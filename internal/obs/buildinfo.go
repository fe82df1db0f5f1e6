package obs

import "github.com/prometheus/client_golang/prometheus"

// buildInfo is a constant 1 labelled with version and commit.
var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Gatehouse build information.",
	},
	[]string{"version", "commit"},
)

// InitBuildInfo registers collectors if needed and publishes build_info.
func InitBuildInfo(version, commit string) {
	Init()
	buildInfo.WithLabelValues(version, commit).Set(1)
}
