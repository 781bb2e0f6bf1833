package config

import (
	"go.opentelemetry.io/otel/metric"
)

// Shared bucket boundaries for the call duration and body size
// histograms, tuned for outbound API traffic: most calls land well
// under a second and under a few KiB, but the tail has to stay visible.
var (
	TimeBucketsOpt = metric.WithExplicitBucketBoundaries(
		0.010, 0.020, 0.050, 0.075,
		0.100, 0.125, 0.150, 0.175,
		0.200, 0.250, 0.300, 0.350,
		0.500, 0.750, 1.000, 1.500,
		2.000, 3.500, 5.000, 10.000)

	SizeBucketsOpt = metric.WithExplicitBucketBoundaries(
		128, 256, 512, 1024,
		4*1024, 8*1024, 16*1024, 32*1024,
		64*1024, 4*64*1024, 8*64*1024, 16*64*1024, // 64k to 1M: already big for an api body
		4*1024*1024, 16*1024*1024, 64*1024*1024,
	)
)
