package curling

import (
	"math"
	"time"
)

// StonesFromAllStones extracts a snapshot of every stone's pose from a
// simulator, the same copy the trajectory compressor takes between frames.
func StonesFromAllStones(sim ISimulator) [numStones]*Transform {
	stones := sim.GetStones()
	out := [numStones]*Transform{}
	for i, t := range stones {
		if t == nil {
			continue
		}
		copied := *t
		out[i] = &copied
	}
	return out
}

// throwStartPosition is where a newly released stone enters the sheet:
// centered on the sheet width, just above the hog line, independent of
// shot index (real delivery line variance is the player's job).
func throwStartPosition(setting GameSetting) Vector2 {
	return Vector2{X: setting.SheetWidth / 2, Y: 3.05}
}

// inGuardZone reports whether pos lies in the y-range, relative to the tee
// line, that the free guard zone rule protects: between the hog line and
// the house.
func inGuardZone(setting GameSetting, pos Vector2) bool {
	distFromTee := pos.Y - setting.TeeLineY
	return distFromTee > setting.HouseRadius && distFromTee < 11.28
}

func outOfPlay(setting GameSetting, pos Vector2) bool {
	return pos.X < 0 || pos.X > setting.SheetWidth || pos.Y < -1 || pos.Y > 21
}

// ApplyMove advances state by one shot: it places the stone belonging to
// the team on the hock, runs it through player (which may rewrite the
// requested move to model execution noise), steps simulator until every
// stone on the sheet is at rest, closes out the end (and the game, if
// appropriate), and reports whether a free-guard-zone foul occurred.
//
// It returns the move actually thrown (per player.Throw) so the caller can
// log actual_move distinctly from the move the peer requested.
func ApplyMove(
	setting GameSetting,
	sim ISimulator,
	player IPlayer,
	state *GameState,
	move Move,
	elapsed time.Duration,
	result *ApplyMoveResult,
	stepCb func(ISimulator),
) (Move, error) {
	team := state.GetNextTeam()
	state.ThinkingTimeRemaining[team] -= elapsed
	if state.ThinkingTimeRemaining[team] < 0 {
		state.ThinkingTimeRemaining[team] = 0
	}

	if move.IsConcede {
		winner := team.Opponent()
		state.GameResult = &GameResult{Winner: &winner}
		return move, nil
	}

	basic, _ := sim.(*BasicSimulator)

	var preGuardStones map[int]Vector2
	if basic != nil && state.Shot < 4 {
		preGuardStones = make(map[int]Vector2)
		for i, t := range basic.stones {
			if t != nil && inGuardZone(setting, t.Position) {
				preGuardStones[i] = t.Position
			}
		}
	}

	actual := player.Throw(move)

	if basic != nil {
		start := throwStartPosition(setting)
		basic.PlaceStone(int(state.Shot), start, actual.Velocity, 0)
	}

	for !sim.AreAllStonesStopped() {
		sim.Step()
		if stepCb != nil {
			stepCb(sim)
		}
	}

	if basic != nil && preGuardStones != nil {
		foul := false
		for i, pos := range preGuardStones {
			t := basic.stones[i]
			if t == nil || outOfPlay(setting, t.Position) {
				foul = true
				basic.stones[i] = &Transform{Position: pos}
				basic.velocity[i] = Vector2{}
			}
		}
		if foul {
			basic.stones[int(state.Shot)] = nil
			result.FreeGuardZoneFoul = true
		}
	}

	state.Shot++
	if state.Shot >= stonesPerEnd {
		closeEnd(setting, sim, state)
	}

	return actual, nil
}

// closeEnd scores the stones remaining on the sheet, appends the end's
// result, advances CurrentEnd, and decides the game if MaxEnd has been
// reached with a clear winner.
func closeEnd(setting GameSetting, sim ISimulator, state *GameState) {
	scored := ScoreEnd(setting, sim, state.HammerTeam)

	extraEnd := state.CurrentEnd >= uint8(setting.MaxEnd)
	if !extraEnd {
		state.recordEndScore(scored)
	} else {
		for team := 0; team < 2; team++ {
			s := scored[team]
			state.ExtraEndScore[team] = &s
		}
		switch {
		case scored[Team0] > 0:
			state.HammerTeam = Team1
		case scored[Team1] > 0:
			state.HammerTeam = Team0
		}
	}

	state.CurrentEnd++
	state.Shot = 0
	if basic, ok := sim.(*BasicSimulator); ok {
		basic.Reset()
	}

	total0, total1 := state.GetTotalScore(Team0), state.GetTotalScore(Team1)
	switch {
	case state.CurrentEnd < uint8(setting.MaxEnd):
		// regulation continues
	case total0 == total1:
		// tied: an extra end is required, GameResult stays nil
	default:
		winner := Team0
		if total1 > total0 {
			winner = Team1
		}
		state.GameResult = &GameResult{Winner: &winner}
	}
}

// ScoreEnd awards the end to whichever team has stones closer to the
// button than the opponent's closest stone, one point per such stone.
// hammer identifies which team held the hammer this end (shots 4..7),
// the non-hammer team having thrown shots 0..3.
func ScoreEnd(setting GameSetting, sim ISimulator, hammer Team) [2]int {
	button := Vector2{X: setting.SheetWidth / 2, Y: setting.TeeLineY}
	stones := sim.GetStones()

	type scored struct {
		team Team
		dist float64
	}
	var inHouse []scored
	for i, t := range stones {
		if t == nil {
			continue
		}
		d := math.Hypot(t.Position.X-button.X, t.Position.Y-button.Y)
		if d > setting.HouseRadius {
			continue
		}
		team := hammer.Opponent()
		if i >= stonesPerEnd/2 {
			team = hammer
		}
		inHouse = append(inHouse, scored{team: team, dist: d})
	}
	if len(inHouse) == 0 {
		return [2]int{0, 0}
	}

	bestByTeam := [2]float64{math.Inf(1), math.Inf(1)}
	for _, s := range inHouse {
		if s.dist < bestByTeam[s.team] {
			bestByTeam[s.team] = s.dist
		}
	}

	var result [2]int
	for _, s := range inHouse {
		if s.dist < bestByTeam[s.team.Opponent()] {
			result[s.team]++
		}
	}
	return result
}
