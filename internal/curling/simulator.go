package curling

import (
	"encoding/json"
	"fmt"
	"math"
)

// numStones is the number of stone slots in play within a single end: four
// per side. The simulator is reset between ends (see Reset) so a single
// fixed-size array of slots is reused across the whole match.
const numStones = stonesPerEnd

// ISimulator advances the stones on the sheet one physics step at a time.
// The protocol layer treats stone poses as opaque snapshots and only calls
// GetStones between steps to feed the trajectory compressor.
type ISimulator interface {
	GetStones() [numStones]*Transform
	AreAllStonesStopped() bool
	GetSecondsPerFrame() float64
	GetFactory() ISimulatorFactory
	// Step advances the simulation by one frame, applying velocity,
	// friction, and stone-to-stone collisions.
	Step()
	// Reset clears every stone slot, called once at the start of each end.
	Reset()
}

// ISimulatorFactory builds simulators and round-trips through JSON via a
// "kind" discriminator, mirroring the protocol's tagged-variant payloads
// (Envelope{Type,Payload} in the match engine this repo is modeled on).
type ISimulatorFactory interface {
	Kind() string
	Clone() ISimulatorFactory
	CreateSimulator() ISimulator
}

// UnmarshalSimulatorFactory decodes a tagged {"kind": "...", ...} payload
// into the concrete factory type it names.
func UnmarshalSimulatorFactory(data []byte) (ISimulatorFactory, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("curling: simulator factory: %w", err)
	}
	switch probe.Kind {
	case "basic", "":
		f := &BasicSimulatorFactory{}
		if err := json.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("curling: basic simulator factory: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("curling: unknown simulator kind %q", probe.Kind)
	}
}

// BasicSimulatorFactory produces BasicSimulators: a simplified constant-
// friction point-mass model, sufficient to exercise the protocol without
// pretending to be a physics-accurate curling simulator.
type BasicSimulatorFactory struct {
	Kind_    string  `json:"kind"`
	Friction float64 `json:"friction,omitempty"`
	FPS      float64 `json:"fps,omitempty"`
}

func (f *BasicSimulatorFactory) Kind() string { return "basic" }

func (f *BasicSimulatorFactory) Clone() ISimulatorFactory {
	clone := *f
	return &clone
}

func (f *BasicSimulatorFactory) CreateSimulator() ISimulator {
	friction := f.Friction
	if friction == 0 {
		friction = 0.015
	}
	fps := f.FPS
	if fps == 0 {
		fps = 100
	}
	sim := &BasicSimulator{factory: f, friction: friction, secondsPerFrame: 1 / fps}
	for i := range sim.velocity {
		sim.stones[i] = nil
	}
	return sim
}

// MarshalJSON stamps the kind discriminator on encode.
func (f *BasicSimulatorFactory) MarshalJSON() ([]byte, error) {
	type wire BasicSimulatorFactory
	w := wire(*f)
	w.Kind_ = "basic"
	return json.Marshal(w)
}

// BasicSimulator is a point-mass sheet simulation: stones decelerate under
// constant friction and bounce elastically off each other. It steps in
// fixed-size frames and reports AreAllStonesStopped once every velocity
// drops under a small epsilon.
type BasicSimulator struct {
	factory         *BasicSimulatorFactory
	friction        float64
	secondsPerFrame float64

	stones   [numStones]*Transform
	velocity [numStones]Vector2
}

const stoneRadius = 0.145
const stopEpsilon = 0.01

func (s *BasicSimulator) GetStones() [numStones]*Transform { return s.stones }

func (s *BasicSimulator) GetSecondsPerFrame() float64 { return s.secondsPerFrame }

func (s *BasicSimulator) GetFactory() ISimulatorFactory { return s.factory }

func (s *BasicSimulator) AreAllStonesStopped() bool {
	for i := range s.stones {
		if s.stones[i] == nil {
			continue
		}
		if math.Hypot(s.velocity[i].X, s.velocity[i].Y) > stopEpsilon {
			return false
		}
	}
	return true
}

// PlaceStone introduces a stone onto the sheet at rest or in motion; called
// by ApplyMove when a new stone is thrown.
func (s *BasicSimulator) PlaceStone(index int, pos Vector2, velocity Vector2, angle float64) {
	s.stones[index] = &Transform{Position: pos, Angle: angle}
	s.velocity[index] = velocity
}

// Reset clears every stone slot, readying the simulator for the next end.
func (s *BasicSimulator) Reset() {
	for i := range s.stones {
		s.stones[i] = nil
		s.velocity[i] = Vector2{}
	}
}

// Step advances every stone one frame: integrate velocity, apply friction,
// resolve pairwise collisions with a simple elastic response.
func (s *BasicSimulator) Step() {
	dt := s.secondsPerFrame
	for i := range s.stones {
		if s.stones[i] == nil {
			continue
		}
		speed := math.Hypot(s.velocity[i].X, s.velocity[i].Y)
		if speed <= stopEpsilon {
			s.velocity[i] = Vector2{}
			continue
		}
		s.stones[i].Position.X += s.velocity[i].X * dt
		s.stones[i].Position.Y += s.velocity[i].Y * dt

		decel := s.friction * 9.81 * dt
		newSpeed := speed - decel
		if newSpeed < 0 {
			newSpeed = 0
		}
		scale := 0.0
		if speed > 0 {
			scale = newSpeed / speed
		}
		s.velocity[i].X *= scale
		s.velocity[i].Y *= scale
	}
	s.resolveCollisions()
}

func (s *BasicSimulator) resolveCollisions() {
	for i := 0; i < numStones; i++ {
		if s.stones[i] == nil {
			continue
		}
		for j := i + 1; j < numStones; j++ {
			if s.stones[j] == nil {
				continue
			}
			dx := s.stones[j].Position.X - s.stones[i].Position.X
			dy := s.stones[j].Position.Y - s.stones[i].Position.Y
			dist := math.Hypot(dx, dy)
			if dist == 0 || dist >= 2*stoneRadius {
				continue
			}
			nx, ny := dx/dist, dy/dist
			overlap := 2*stoneRadius - dist
			s.stones[i].Position.X -= nx * overlap / 2
			s.stones[i].Position.Y -= ny * overlap / 2
			s.stones[j].Position.X += nx * overlap / 2
			s.stones[j].Position.Y += ny * overlap / 2

			vi := s.velocity[i].X*nx + s.velocity[i].Y*ny
			vj := s.velocity[j].X*nx + s.velocity[j].Y*ny
			s.velocity[i].X += (vj - vi) * nx
			s.velocity[i].Y += (vj - vi) * ny
			s.velocity[j].X += (vi - vj) * nx
			s.velocity[j].Y += (vi - vj) * ny
		}
	}
}
