package metrics

import "testing"

type captureBackend struct {
	counters   map[string]float64
	histograms map[string][]float64
	flushed    int
}

func newCaptureBackend() *captureBackend {
	return &captureBackend{
		counters:   map[string]float64{},
		histograms: map[string][]float64{},
	}
}

func (b *captureBackend) IncCounter(name string, delta float64, _ Labels) {
	b.counters[name] += delta
}

func (b *captureBackend) ObserveHistogram(name string, v float64, _ Labels) {
	b.histograms[name] = append(b.histograms[name], v)
}

func (b *captureBackend) Flush() error {
	b.flushed++
	return nil
}

func TestFacadeRouting(t *testing.T) {
	b := newCaptureBackend()
	SetBackend(b)
	defer SetBackend(nil)

	IncCounter(ImportRowsTotal, 3, Labels{"kind": "inserted"})
	IncCounter(ImportRowsTotal, 2, Labels{"kind": "rejected"})
	ObserveHistogram(ImportStepDurationSeconds, 0.25, Labels{"step": "factions"})
	if err := Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := b.counters[ImportRowsTotal]; got != 5 {
		t.Errorf("counter = %v, want 5", got)
	}
	if got := len(b.histograms[ImportStepDurationSeconds]); got != 1 {
		t.Errorf("histogram samples = %d, want 1", got)
	}
	if b.flushed != 1 {
		t.Errorf("flushed = %d, want 1", b.flushed)
	}
}

func TestNopDefaultIsSafe(t *testing.T) {
	SetBackend(nil)
	IncCounter(ImportStepTotal, 1, nil)
	ObserveHistogram(ImportStepDurationSeconds, 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("nop Flush: %v", err)
	}
}
