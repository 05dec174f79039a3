package device

import "testing"

func TestCapabilityCache(t *testing.T) {
	rec := NewRecord(&funDevice{}, "")

	if !rec.HasCapability(capFun) {
		t.Error("fun device should cache the fun capability")
	}
	if rec.HasCapability(capSleep) {
		t.Error("fun device should not have the sleep capability")
	}
	if rec.HasCapability(CapLEDController) {
		t.Error("fun device should not have the LED capability")
	}
}

func TestCapabilityStability(t *testing.T) {
	rec := NewRecord(&sleepyDevice{}, "")

	// the cached answer must not change across the record's lifetime
	for i := 0; i < 100; i++ {
		if !rec.HasCapability(capSleep) {
			t.Fatal("sleep capability disappeared")
		}
		if rec.HasCapability(capFun) {
			t.Fatal("fun capability appeared from nowhere")
		}
	}
}

func TestNoCapabilities(t *testing.T) {
	rec := NewRecord(&noCapDevice{}, "")
	if got := len(rec.Capabilities()); got != 0 {
		t.Errorf("capabilities = %v, want none", rec.Capabilities())
	}
}

func TestAsTypedAccess(t *testing.T) {
	rec := NewRecord(&sleepyDevice{}, "")

	if _, ok := As[sleepCapable](rec); !ok {
		t.Error("As[sleepCapable] should succeed")
	}
	if _, ok := As[funCapable](rec); ok {
		t.Error("As[funCapable] should fail")
	}
}

func TestDefaultRecordName(t *testing.T) {
	rec := NewRecord(&sleepyDevice{}, "")
	want := "sleepy-" + rec.Address().String()
	if rec.Name() != want {
		t.Errorf("name = %q, want %q", rec.Name(), want)
	}

	named := NewRecord(&sleepyDevice{}, "porch-sensor")
	if named.Name() != "porch-sensor" {
		t.Errorf("name = %q, want porch-sensor", named.Name())
	}
}
