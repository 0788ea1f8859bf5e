// Package wire defines the newline-delimited JSON message shapes
// exchanged between the server and its two peers.
package wire

import (
	"encoding/json"
	"fmt"

	"example.com/curling-match-server/internal/curling"
)

// Version is the protocol version announced in every dc envelope.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

const (
	ProtocolMajor = 2
	ProtocolMinor = 0
)

// cmdProbe peeks at a line's cmd field without committing to a full
// payload shape.
type cmdProbe struct {
	Cmd string `json:"cmd"`
}

// PeekCmd extracts the cmd discriminator from a raw line so the caller
// can dispatch to the right payload type.
func PeekCmd(line []byte) (string, error) {
	var p cmdProbe
	if err := json.Unmarshal(line, &p); err != nil {
		return "", fmt.Errorf("wire: malformed message: %w", err)
	}
	if p.Cmd == "" {
		return "", fmt.Errorf("wire: message missing cmd field")
	}
	return p.Cmd, nil
}

// DC is the server's opening handshake line.
type DC struct {
	Cmd      string  `json:"cmd"`
	Version  Version `json:"version"`
	GameID   string  `json:"game_id"`
	DateTime string  `json:"date_time"`
}

func NewDC(gameID, dateTime string) DC {
	return DC{
		Cmd:      "dc",
		Version:  Version{Major: ProtocolMajor, Minor: ProtocolMinor},
		GameID:   gameID,
		DateTime: dateTime,
	}
}

// DCOk is the peer's handshake reply.
type DCOk struct {
	Cmd  string `json:"cmd"`
	Name string `json:"name"`
}

// IsReady is the ready-phase envelope; Team is a pointer so it can be
// nulled out in the new-game barrier's game-log replay.
type IsReady struct {
	Cmd  string          `json:"cmd"`
	Game json.RawMessage `json:"game"`
	Team *int            `json:"team"`
}

func NewIsReady(game json.RawMessage, team int) IsReady {
	t := team
	return IsReady{Cmd: "is_ready", Game: game, Team: &t}
}

// ReadyOk is the peer's acknowledgement, naming the shot order of its
// four registered players.
type ReadyOk struct {
	Cmd         string `json:"cmd"`
	PlayerOrder []int  `json:"player_order"`
}

// NewGame announces both peers' display names, keyed by team tag ("0"/"1").
type NewGame struct {
	Cmd  string            `json:"cmd"`
	Name map[string]string `json:"name"`
}

func NewNewGame(name0, name1 string) NewGame {
	return NewGame{Cmd: "new_game", Name: map[string]string{"0": name0, "1": name1}}
}

// Move is the peer's chosen shot.
type Move struct {
	Cmd  string       `json:"cmd"`
	Move curling.Move `json:"move"`
}

// LastMove is the prior shot's outcome, attached to an Update envelope.
type LastMove struct {
	ActualMove        curling.Move    `json:"actual_move"`
	FreeGuardZoneFoul bool            `json:"free_guard_zone_foul"`
	Trajectory        json.RawMessage `json:"trajectory,omitempty"`
}

// Update is the per-shot state broadcast.
type Update struct {
	Cmd      string             `json:"cmd"`
	NextTeam curling.Team       `json:"next_team"`
	State    *curling.GameState `json:"state"`
	LastMove *LastMove          `json:"last_move,omitempty"`
}

// GameOver is the terminal envelope sent once GameState.GameResult is set.
type GameOver struct {
	Cmd string `json:"cmd"`
}

func NewGameOver() GameOver { return GameOver{Cmd: "game_over"} }
