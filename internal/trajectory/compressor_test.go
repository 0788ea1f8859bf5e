package trajectory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/curling-match-server/internal/curling"
)

func newTestSimulator() *curling.BasicSimulator {
	factory := &curling.BasicSimulatorFactory{Friction: 0.5, FPS: 50}
	return factory.CreateSimulator().(*curling.BasicSimulator)
}

func TestCompressor_StationaryScene_RecordsNoDeltaFrames(t *testing.T) {
	sim := newTestSimulator()
	sim.PlaceStone(0, curling.Vector2{X: 1, Y: 2}, curling.Vector2{}, 0)

	var c Compressor
	c.Begin(4, 0)
	c.End(sim)
	result := c.GetResult()

	assert.Empty(t, result.Frames, "a stone that never moves produces no delta frames")
	assert.Equal(t, result.Start, result.Finish, "start and finish snapshots match when nothing moved")

	got, err := Decompress(result)
	require.NoError(t, err)
	assert.Equal(t, result.Finish, got)
}

func TestCompressor_StepsPerTrajectoryFrame1_RecordsEveryStep(t *testing.T) {
	sim := newTestSimulator()
	sim.PlaceStone(0, curling.Vector2{X: 0, Y: 0}, curling.Vector2{X: 0, Y: 3}, 0)

	var c Compressor
	c.Begin(1, 0)
	c.OnStep(sim) // frame 0: keyframe only, no delta

	steps := 0
	for !sim.AreAllStonesStopped() && steps < 10000 {
		sim.Step()
		c.OnStep(sim)
		steps++
	}
	require.Greater(t, steps, 1, "the stone must take more than one step to stop under friction")

	c.End(sim)
	result := c.GetResult()

	assert.Equal(t, steps, len(result.Frames), "steps_per_trajectory_frame=1 records a delta every step")
}

func TestCompressor_DecompressRoundTrip_ReconstructsFinishFromStart(t *testing.T) {
	sim := newTestSimulator()
	sim.PlaceStone(0, curling.Vector2{X: 0, Y: 0}, curling.Vector2{X: 0, Y: 3}, 0)
	sim.PlaceStone(4, curling.Vector2{X: 1, Y: 0}, curling.Vector2{}, 0)

	var c Compressor
	c.Begin(3, 0)
	c.OnStep(sim)

	for !sim.AreAllStonesStopped() {
		sim.Step()
		c.OnStep(sim)
	}
	c.End(sim)
	result := c.GetResult()

	require.NotEmpty(t, result.Frames, "a moving stone must produce at least one delta frame")

	got, err := Decompress(result)
	require.NoError(t, err)
	assert.Equal(t, result.Finish, got, "replaying every frame against start must reconstruct finish")
}

func TestCompressor_End_TakesFinishSnapshotEvenWithoutOnStep(t *testing.T) {
	sim := newTestSimulator()
	sim.PlaceStone(0, curling.Vector2{X: 5, Y: 5}, curling.Vector2{}, 0)

	var c Compressor
	c.Begin(4, 0)
	c.End(sim)
	result := c.GetResult()

	assert.NotNil(t, result.Finish[0][0], "End must snapshot the simulator even when OnStep was never called")
	assert.Equal(t, curling.Vector2{X: 5, Y: 5}, result.Finish[0][0].Position)
}

func TestCompressor_Active_TracksBeginAndEnd(t *testing.T) {
	sim := newTestSimulator()

	var c Compressor
	assert.False(t, c.Active())
	c.Begin(4, 0)
	assert.True(t, c.Active())
	c.End(sim)
	assert.False(t, c.Active())
}

func TestCompressor_SecondsPerFrame_ScalesByStepsPerFrame(t *testing.T) {
	sim := newTestSimulator()

	var c Compressor
	c.Begin(4, 0)
	c.OnStep(sim)
	c.End(sim)
	result := c.GetResult()

	assert.Equal(t, sim.GetSecondsPerFrame()*4, result.SecondsPerFrame)
}

func TestDecompress_RejectsOutOfRangeIndex(t *testing.T) {
	sim := newTestSimulator()
	sim.PlaceStone(0, curling.Vector2{}, curling.Vector2{}, 0)

	var c Compressor
	c.Begin(4, 0)
	c.End(sim)
	result := c.GetResult()
	result.Frames = []Frame{{{Team: curling.Team0, Index: stonesPerSide, Transform: nil}}}

	_, err := Decompress(result)
	assert.Error(t, err)
}
