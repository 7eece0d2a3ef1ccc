package adc

import (
	"errors"
	"testing"
)

func TestFakeReaderWaveform(t *testing.T) {
	f := NewFakeReader(func(n int) int { return Midpoint + n*10 })

	for i := 0; i < 3; i++ {
		v, err := f.ReadRaw()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if want := Midpoint + i*10; v != want {
			t.Errorf("read %d: got %d, want %d", i, v, want)
		}
	}
	if f.Reads != 3 {
		t.Errorf("expected 3 reads counted, got %d", f.Reads)
	}
}

func TestFakeReaderNilWaveformReadsMidpoint(t *testing.T) {
	f := NewFakeReader(nil)

	v, err := f.ReadRaw()
	if err != nil {
		t.Fatal(err)
	}
	if v != Midpoint {
		t.Errorf("got %d, want midpoint %d", v, Midpoint)
	}
	if f.Reads != 1 {
		t.Errorf("expected 1 read counted, got %d", f.Reads)
	}
}

func TestFakeReaderClampsToRange(t *testing.T) {
	f := NewFakeReader(func(n int) int {
		if n == 0 {
			return -500
		}
		return Resolution + 500
	})

	v, _ := f.ReadRaw()
	if v != 0 {
		t.Errorf("negative sample should clamp to 0, got %d", v)
	}
	v, _ = f.ReadRaw()
	if v != Resolution {
		t.Errorf("oversized sample should clamp to %d, got %d", Resolution, v)
	}
}

func TestFakeReaderError(t *testing.T) {
	f := NewFakeReader(nil)
	f.ReadError = errors.New("simulated error")

	if _, err := f.ReadRaw(); err == nil || err.Error() != "simulated error" {
		t.Errorf("expected simulated error, got %v", err)
	}
	if f.Reads != 0 {
		t.Errorf("failed read must not count, got %d", f.Reads)
	}
}

func TestFakeReaderClose(t *testing.T) {
	f := NewFakeReader(nil)

	if f.Closed {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if !f.Closed {
		t.Error("should be closed after Close")
	}
}

func TestFakeReaderReset(t *testing.T) {
	f := NewFakeReader(nil)
	f.ReadRaw()
	f.ReadError = errors.New("simulated error")
	f.Close()

	f.Reset()
	if f.Reads != 0 || f.ReadError != nil || f.Closed {
		t.Errorf("reset incomplete: %+v", f)
	}
}
