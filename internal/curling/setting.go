package curling

import "time"

// GameSetting is the immutable ruleset a match is played under.
type GameSetting struct {
	MaxEnd               uint8         `json:"max_end"`
	ThinkingTime         time.Duration `json:"thinking_time"` // per team, regulation ends
	ExtraEndThinkingTime time.Duration `json:"extra_end_thinking_time"`
	SheetWidth           float64       `json:"sheet_width"`
	HouseRadius          float64       `json:"house_radius"`
	TeeLineY             float64       `json:"tee_line_y"`
}

// DefaultGameSetting mirrors a standard 8-end club match.
func DefaultGameSetting() GameSetting {
	return GameSetting{
		MaxEnd:               8,
		ThinkingTime:         5 * time.Minute,
		ExtraEndThinkingTime: 90 * time.Second,
		SheetWidth:           4.75,
		HouseRadius:          1.829,
		TeeLineY:             0,
	}
}
