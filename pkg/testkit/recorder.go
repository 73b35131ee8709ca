// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package testkit

import (
	"sync"

	"github.com/stacklok/umakit/pkg/metrics"
)

// Recorder is a metrics.Recorder that remembers every observation.
type Recorder struct {
	mu     sync.Mutex
	counts map[[2]string]int
}

// Record implements metrics.Recorder.
func (r *Recorder) Record(operation string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[[2]string]int)
	}
	r.counts[[2]string{operation, metrics.Outcome(err)}]++
}

// Count returns how often operation was recorded with outcome.
func (r *Recorder) Count(operation, outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[[2]string{operation, outcome}]
}
