package app

import (
	"errors"
	"strings"
	"testing"

	"newtcore/hal"
	"newtcore/newtos/kernel"
)

type testHAL struct {
	log   *hal.LineBuffer
	disp  hal.Display
	ticks chan uint64
}

func newTestHAL() *testHAL {
	return &testHAL{
		log:   &hal.LineBuffer{},
		disp:  hal.NewWithLog(nil).Display(),
		ticks: make(chan uint64, 64),
	}
}

func (h *testHAL) Logger() hal.Logger   { return h.log }
func (h *testHAL) Display() hal.Display { return h.disp }
func (h *testHAL) Time() hal.Time       { return h }

func (h *testHAL) Ticks() <-chan uint64 { return h.ticks }

func hasLine(lines []string, substr string) bool {
	for _, l := range lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func TestStepRunsDemo(t *testing.T) {
	h := newTestHAL()
	step, err := New(h, Config{Demo: "ports"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for i := 0; i < 8; i++ {
		if err := step(); err != nil {
			t.Fatalf("step() = %v, want nil", err)
		}
	}
	if !hasLine(h.log.Lines(), "[ping] done after 8 round trips") {
		t.Fatalf("ping did not finish; log:\n%s", strings.Join(h.log.Lines(), "\n"))
	}
}

func TestStepAdvancesClockPerTick(t *testing.T) {
	h := newTestHAL()
	s, err := newSystem(h, Config{})
	if err != nil {
		t.Fatalf("newSystem() error = %v", err)
	}
	for i := uint64(1); i <= 5; i++ {
		h.ticks <- i
	}
	if err := s.step(); err != nil {
		t.Fatalf("step() = %v, want nil", err)
	}
	if got, want := s.k.Now(), 5*kernel.Millisecond; got != want {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestConsoleMirrorsLog(t *testing.T) {
	h := newTestHAL()
	s, err := newSystem(h, Config{Console: true})
	if err != nil {
		t.Fatalf("newSystem() error = %v", err)
	}
	if s.term == nil {
		t.Fatalf("term = nil, want console terminal")
	}
	if s.term.Lines() == 0 {
		t.Fatalf("term.Lines() = 0, want boot lines")
	}
	if !hasLine(h.log.Lines(), "kernel: boot:") {
		t.Fatalf("host log missing boot line")
	}
}

func TestHaltPaintsScreen(t *testing.T) {
	h := newTestHAL()
	s, err := newSystem(h, Config{})
	if err != nil {
		t.Fatalf("newSystem() error = %v", err)
	}
	s.k.Halt("test halt")
	if err := s.step(); !errors.Is(err, ErrHalted) {
		t.Fatalf("step() = %v, want %v", err, ErrHalted)
	}
	if !hasLine(h.log.Lines(), "newtcore halt: test halt") {
		t.Fatalf("host log missing halt line")
	}
	buf := h.disp.Framebuffer().Buffer()
	if buf[0] != 0x00 || buf[1] != 0xA8 {
		t.Fatalf("pixel(0,0) = %#02x%02x, want 0xa800", buf[1], buf[0])
	}
}

func TestUnknownDemo(t *testing.T) {
	if _, err := New(newTestHAL(), Config{Demo: "nope"}); err == nil {
		t.Fatalf("New(nope) error = nil, want error")
	}
}

func TestTakeRunes(t *testing.T) {
	tests := []struct {
		in         string
		n          int16
		head, tail string
	}{
		{"abcdef", 4, "abcd", "ef"},
		{"abc", 4, "abc", ""},
		{"héllo", 2, "hé", "llo"},
		{"", 3, "", ""},
	}
	for _, tt := range tests {
		head, tail := takeRunes(tt.in, tt.n)
		if head != tt.head || tail != tt.tail {
			t.Fatalf("takeRunes(%q, %d) = %q, %q, want %q, %q", tt.in, tt.n, head, tail, tt.head, tt.tail)
		}
	}
}
