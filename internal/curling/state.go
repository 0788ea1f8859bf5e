package curling

import "time"

// GameResult records the outcome once CurrentEnd has been played out past
// MaxEnd (or an extra end produced a non-tied score).
type GameResult struct {
	Winner *Team `json:"winner,omitempty"` // nil means a drawn game
}

// GameState is the mutable state of a single match: scores, whose turn it
// is, how much thinking time each side has consumed, and the current shot
// count within the end. It carries no behavior of its own beyond the
// accessors the protocol layer needs; ApplyMove is the only mutator.
type GameState struct {
	CurrentEnd uint8 `json:"current_end"` // 0-indexed
	Shot       uint8 `json:"shot"`        // 0..7 within a normal end, resets each end

	// Scores[team][end] is nil until that end has been played; the
	// length grows as ends complete. ExtraEndScore is populated only
	// when an extra end was required to break a tie.
	Scores        [2][]*int `json:"scores"`
	ExtraEndScore [2]*int   `json:"extra_end_score,omitempty"`

	ThinkingTimeRemaining [2]time.Duration `json:"thinking_time_remaining"`

	// HammerTeam is the team throwing last in CurrentEnd (the "hammer").
	// It starts with Team1 (per the original server's startup log: "Team
	// 1 has the last stone in the first end") and flips each end to
	// whichever team did not score in the end just completed; it is left
	// unchanged after a blanked end.
	HammerTeam Team `json:"hammer_team"`

	GameResult *GameResult `json:"game_result,omitempty"`
}

// NewGameState builds the initial state for a fresh match under setting.
func NewGameState(setting GameSetting) *GameState {
	s := &GameState{
		HammerTeam: Team1,
	}
	s.ThinkingTimeRemaining[Team0] = setting.ThinkingTime
	s.ThinkingTimeRemaining[Team1] = setting.ThinkingTime
	return s
}

// GetNextTeam returns the team on the hock for the current shot: the team
// without the hammer throws first in an end, so the team to move is
// HammerTeam's opponent for the first half of the end's shots and
// HammerTeam itself for the second half.
func (s *GameState) GetNextTeam() Team {
	nonHammer := s.HammerTeam.Opponent()
	if int(s.Shot) < stonesPerEnd/2 {
		return nonHammer
	}
	return s.HammerTeam
}

// PlayerIndex returns the shot-order slot for the current shot, computed
// as Shot/4 over the end's shared 0..7 shot counter: slot 0 for shots 0..3
// and slot 1 for shots 4..7. Slots 2 and 3 are never returned.
func (s *GameState) PlayerIndex() int {
	return int(s.Shot) / slotsPerTeam
}

// GetTotalScore sums every completed end's score (plus an extra end, if
// played) for team.
func (s *GameState) GetTotalScore(team Team) int {
	total := 0
	for _, end := range s.Scores[team] {
		if end != nil {
			total += *end
		}
	}
	if s.ExtraEndScore[team] != nil {
		total += *s.ExtraEndScore[team]
	}
	return total
}

// IsGameOver reports whether GameResult has been decided.
func (s *GameState) IsGameOver() bool {
	return s.GameResult != nil
}

// recordEndScore appends the score each team took in the end just
// completed and flips HammerTeam to whichever team failed to score. A
// blanked end (0-0) leaves the hammer unchanged, matching standard curling
// rules.
func (s *GameState) recordEndScore(scored [2]int) {
	for team := 0; team < 2; team++ {
		score := scored[team]
		s.Scores[team] = append(s.Scores[team], &score)
	}
	switch {
	case scored[Team0] > 0:
		s.HammerTeam = Team1
	case scored[Team1] > 0:
		s.HammerTeam = Team0
	}
}
