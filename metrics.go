// Copyright (C) 2019 Shield Diagnostics and the Oatmeal Protocol contributors.

package oatmeal

import "expvar"

// portMetricsMap mirrors port activity into expvar counters, shared by
// all ports in the process. Per-port numbers live in Port.Stats; these
// are for process-level monitoring.
type portMetricsMap struct {
	bytesRead     expvar.Int
	goodFrames    expvar.Int
	framesWritten expvar.Int
	frameErrors   expvar.Int // dropped or corrupted frames of any kind

	emap *expvar.Map
}

var portMetrics = newPortMetrics()

func newPortMetrics() *portMetricsMap {
	pm := &portMetricsMap{emap: new(expvar.Map)}
	pm.emap.Set("bytes_read", &pm.bytesRead)
	pm.emap.Set("good_frames", &pm.goodFrames)
	pm.emap.Set("frames_written", &pm.framesWritten)
	pm.emap.Set("frame_errors", &pm.frameErrors)
	return pm
}

// Metrics returns the process-wide metrics map for ports. It is safe for
// the caller to add additional metrics to the map.
func (p *Port) Metrics() *expvar.Map { return portMetrics.emap }
