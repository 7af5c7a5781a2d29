package application

import "math"

type sample struct {
	ts    int64
	value float64
}

// slidingWindow keeps (timestamp, value) pairs for RoC and volatility
// rules, bounded by the rule's window in milliseconds.
type slidingWindow struct {
	samples []sample
}

func (w *slidingWindow) add(ts int64, value float64) {
	w.samples = append(w.samples, sample{ts: ts, value: value})
}

// evictBefore drops samples older than minTS.
func (w *slidingWindow) evictBefore(minTS int64) {
	cut := 0
	for cut < len(w.samples) && w.samples[cut].ts < minTS {
		cut++
	}
	if cut > 0 {
		w.samples = append(w.samples[:0], w.samples[cut:]...)
	}
}

func (w *slidingWindow) len() int {
	return len(w.samples)
}

func (w *slidingWindow) oldest() sample {
	return w.samples[0]
}

func (w *slidingWindow) newest() sample {
	return w.samples[len(w.samples)-1]
}

// stddev returns the sample standard deviation of the window.
func (w *slidingWindow) stddev() float64 {
	n := len(w.samples)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, s := range w.samples {
		mean += s.value
	}
	mean /= float64(n)
	var m2 float64
	for _, s := range w.samples {
		d := s.value - mean
		m2 += d * d
	}
	return math.Sqrt(m2 / float64(n-1))
}
