package shaker

import (
	"strconv"
	"sync"
)

// Simulator emulates the power supply firmware. Its Respond method plugs
// into serial.NewScriptedDevice.
type Simulator struct {
	mu        sync.Mutex
	mode      Mode
	duty      int
	recording bool
	applied   []int
	// IgnoreModeCommands makes the firmware echo mode commands without
	// changing mode, as a supply stuck in a bad state would.
	IgnoreModeCommands bool
	// OnDuty is called with every duty value received, before replying.
	OnDuty func(value int)
}

// NewSimulator returns a supply in manual mode at duty 0.
func NewSimulator() *Simulator {
	return &Simulator{mode: ModeManual}
}

// Respond answers one command line.
func (s *Simulator) Respond(line string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if line == "" {
		return nil
	}
	switch line[0] {
	case 'x', 's', 'm':
		if !s.IgnoreModeCommands {
			switch line[0] {
			case 'x':
				if s.mode == ModeSerial {
					s.mode = ModeManual
				} else {
					s.mode = ModeSerial
				}
			case 's':
				s.mode = ModeSerial
			case 'm':
				s.mode = ModeManual
			}
		}
		if s.mode == ModeSerial {
			return []string{line, "Serial control enabled"}
		}
		return []string{line, "Manual control enabled"}

	case 'd', 'i':
		v, err := strconv.Atoi(line[1:])
		if err != nil || len(line) != 4 {
			return []string{"bad command " + line}
		}
		if s.OnDuty != nil {
			s.OnDuty(v)
		}
		if s.mode != ModeSerial {
			return []string{"ignored, manual control"}
		}
		s.duty = v
		s.applied = append(s.applied, v)
		if line[0] == 'i' {
			s.recording = !s.recording
		}
		return []string{"duty " + line[1:]}
	}
	return []string{"unknown command " + line}
}

// Mode returns the emulated control mode.
func (s *Simulator) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Duty returns the current emulated duty.
func (s *Simulator) Duty() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duty
}

// Recording reports whether the camera trigger is in the recording state.
func (s *Simulator) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Applied returns every duty value accepted so far, in order.
func (s *Simulator) Applied() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.applied))
	copy(out, s.applied)
	return out
}
