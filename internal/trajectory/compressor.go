// Package trajectory implements the streaming differential encoder that
// turns a dense per-step physics callback stream into a compact
// keyframe-plus-delta record: a start snapshot, a finish snapshot, and the
// frames in between expressed only as what changed.
package trajectory

import (
	"fmt"

	"example.com/curling-match-server/internal/curling"
)

// Difference is one stone's change within a delta frame: which team and
// slot it belongs to, and its current transform (nil if the stone left
// play).
type Difference struct {
	Team      curling.Team       `json:"team"`
	Index     int                `json:"index"`
	Transform *curling.Transform `json:"transform,omitempty"`
}

// Frame is the set of stones that changed since the previous frame (or,
// for frame zero, since Begin).
type Frame []Difference

// Stones is a team-indexed snapshot: four stone slots per side.
type Stones [2][]*curling.Transform

// Result is the complete record for one shot: enough to reconstruct every
// intermediate frame by replaying Frames against Start.
type Result struct {
	SecondsPerFrame float64 `json:"seconds_per_frame"`
	Start           Stones  `json:"start"`
	Finish          Stones  `json:"finish"`
	Frames          []Frame `json:"frames"`
}

// Compressor accumulates OnStep callbacks between Begin and End. It is not
// safe for concurrent use; the Game FSM drives exactly one shot through it
// at a time.
type Compressor struct {
	active          bool
	frameCount      int
	stepsPerFrame   int
	end             uint8
	prevStones      Stones
	result          Result
}

// Begin starts accumulating a new shot's trajectory. stepsPerFrame controls
// how often a delta frame is recorded; end is carried through only to
// select which team's stone slots are being tracked (unused here beyond
// documentation, since the simulator already scopes its slots to one end).
func (c *Compressor) Begin(stepsPerFrame int, end uint8) {
	if c.active {
		panic("trajectory: Begin called while already active")
	}
	c.active = true
	c.frameCount = 0
	c.stepsPerFrame = stepsPerFrame
	c.end = end
	c.result = Result{}
}

// OnStep is called once per physics step. The first call (frame 0) records
// the start snapshot; later calls record a delta frame every stepsPerFrame
// steps, or immediately once every stone has stopped moving, using
// post-increment counting: the step count is incremented after testing.
func (c *Compressor) OnStep(sim curling.ISimulator) {
	if !c.active {
		panic("trajectory: OnStep called while inactive")
	}
	if c.frameCount == 0 {
		c.setFirstFrame(sim)
	} else if c.frameCount%c.stepsPerFrame == 0 || sim.AreAllStonesStopped() {
		c.addFrameDiff(sim)
	}
	c.frameCount++
}

// End closes the shot, taking the finish snapshot from sim regardless of
// whether OnStep was ever called.
func (c *Compressor) End(sim curling.ISimulator) {
	if !c.active {
		panic("trajectory: End called while inactive")
	}
	if c.frameCount == 0 {
		c.setFirstFrame(sim)
	}
	c.result.Finish = stonesFromSimulator(sim)
	c.active = false
}

// GetResult returns the completed record. It must only be called after End.
func (c *Compressor) GetResult() Result {
	if c.active {
		panic("trajectory: GetResult called while active")
	}
	return c.result
}

// Active reports whether the compressor is between a Begin and its
// matching End.
func (c *Compressor) Active() bool {
	return c.active
}

func (c *Compressor) setFirstFrame(sim curling.ISimulator) {
	stones := stonesFromSimulator(sim)
	c.prevStones = stones
	c.result.Start = stones
	c.result.SecondsPerFrame = sim.GetSecondsPerFrame() * float64(c.stepsPerFrame)
}

func (c *Compressor) addFrameDiff(sim curling.ISimulator) {
	current := stonesFromSimulator(sim)

	var diffs Frame
	for team := 0; team < 2; team++ {
		prevTeam := c.prevStones[team]
		curTeam := current[team]
		for i := range curTeam {
			prev := prevTeam[i]
			cur := curTeam[i]
			if stoneChanged(prev, cur) {
				diffs = append(diffs, Difference{
					Team:      curling.Team(team),
					Index:     i,
					Transform: cur,
				})
			}
		}
	}

	c.result.Frames = append(c.result.Frames, diffs)
	c.prevStones = current
}

func stoneChanged(prev, cur *curling.Transform) bool {
	if (prev == nil) != (cur == nil) {
		return true
	}
	if prev == nil {
		return false
	}
	return prev.Position.X != cur.Position.X ||
		prev.Position.Y != cur.Position.Y ||
		prev.Angle != cur.Angle
}

// stonesPerSide is the number of stone slots each team occupies within the
// flat per-end array the simulator exposes.
const stonesPerSide = 4

// stonesFromSimulator splits the simulator's flat eight-slot array into
// team-indexed lists of four, matching the wire shape of Stones.
func stonesFromSimulator(sim curling.ISimulator) Stones {
	flat := sim.GetStones()
	var out Stones
	out[0] = make([]*curling.Transform, stonesPerSide)
	out[1] = make([]*curling.Transform, stonesPerSide)
	for i, t := range flat {
		team := 0
		slot := i
		if i >= stonesPerSide {
			team = 1
			slot = i - stonesPerSide
		}
		if t == nil {
			continue
		}
		copied := *t
		out[team][slot] = &copied
	}
	return out
}

// Decompress replays a Result's frames against its Start snapshot and
// returns the reconstructed final state; it does not compare that state
// with Finish. It rejects differences whose team or index is out of
// range. It exists for tests and for any downstream tool that wants to
// reconstruct intermediate frames rather than just the endpoints.
func Decompress(r Result) (Stones, error) {
	current := r.Start
	for fi, frame := range r.Frames {
		for _, d := range frame {
			if d.Team != 0 && d.Team != 1 {
				return Stones{}, fmt.Errorf("trajectory: frame %d: invalid team %d", fi, d.Team)
			}
			if d.Index < 0 || d.Index >= stonesPerSide {
				return Stones{}, fmt.Errorf("trajectory: frame %d: invalid index %d", fi, d.Index)
			}
			current[d.Team][d.Index] = d.Transform
		}
	}
	return current, nil
}
