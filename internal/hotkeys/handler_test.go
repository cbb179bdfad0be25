package hotkeys

import (
	"reflect"
	"testing"
)

func TestIgnoreMasks(t *testing.T) {
	tests := []struct {
		name                  string
		caps, numLock, scroll uint16
		want                  []uint16
	}{
		{"caps only", 2, 0, 0, []uint16{0, 2}},
		{"caps and numlock", 2, 16, 0, []uint16{0, 2, 16, 18}},
		{"all three", 2, 16, 128, []uint16{0, 2, 16, 18, 128, 130, 144, 146}},
		{"numlock aliases caps", 2, 2, 0, []uint16{0, 2}},
		{"scroll aliases numlock", 2, 16, 16, []uint16{0, 2, 16, 18}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ignoreMasks(tt.caps, tt.numLock, tt.scroll)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ignoreMasks(%d, %d, %d) = %v, want %v", tt.caps, tt.numLock, tt.scroll, got, tt.want)
			}
		})
	}
}

func TestRegisterSwitchNow_EmptySequenceDisabled(t *testing.T) {
	h := &Handler{}
	if err := h.RegisterSwitchNow("", nil); err != nil {
		t.Fatalf("expected empty sequence to be a no-op, got %v", err)
	}
}

func TestRegisterFunc_RequiresConnection(t *testing.T) {
	h := &Handler{}
	if err := h.RegisterFunc("Mod4-s", func() {}); err == nil {
		t.Fatalf("expected error without X11 connection")
	}
}
