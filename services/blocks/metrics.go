// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package blocks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "gridblocks"

// Metrics are registered on the default registry and exposed on the
// /metrics endpoint.
var (
	// blockWrites counts block mutations by action (created, updated,
	// archived, unarchived).
	blockWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "block_writes_total",
			Help:      "Total block mutations by action",
		},
		[]string{"action"},
	)

	// treeReads counts assembled tree reads.
	treeReads = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tree_reads_total",
			Help:      "Total block tree assemblies",
		},
	)

	// saveResults counts layout saves by result (applied, conflict).
	saveResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "layout_saves_total",
			Help:      "Total layout save attempts by result",
		},
		[]string{"result"},
	)

	// saveDuration measures end-to-end layout save duration, including
	// the applied structural operations.
	saveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "layout_save_duration_seconds",
			Help:      "Layout save duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)
)
