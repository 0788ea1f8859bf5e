// Package config parses the server's JSON configuration file (with //
// comments permitted) into a normalized, immutable Config, resolving the
// game_is_ready / game_is_ready_patch precedence rule along the way.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/tailscale/hujson"

	"example.com/curling-match-server/internal/curling"
)

// Rule names the match ruleset. "normal" is the only rule defined; it
// requires exactly four players per side.
type Rule string

const RuleNormal Rule = "normal"

// ServerConfig is the server{} subtree.
type ServerConfig struct {
	Port                    [2]uint16
	TimeoutDCOk             time.Duration
	UpdateInterval          time.Duration
	SendTrajectory          bool
	StepsPerTrajectoryFrame int
}

// GameConfig is the game{} subtree.
type GameConfig struct {
	Rule      Rule
	Setting   curling.GameSetting
	Simulator curling.ISimulatorFactory
	Players   [2][]curling.IPlayerFactory
}

// Config is the fully parsed, validated, immutable server configuration.
type Config struct {
	Server      ServerConfig
	Game        GameConfig
	GameIsReady json.RawMessage
}

// rawServerConfig mirrors the wire shape of server{}, with port keyed by
// team tag and durations expressed in milliseconds.
type rawServerConfig struct {
	Port                    map[string]uint16 `json:"port"`
	TimeoutDCOkMs           int64             `json:"timeout_dc_ok"`
	UpdateIntervalMs        *int64            `json:"update_interval,omitempty"`
	SendTrajectory          bool              `json:"send_trajectory"`
	StepsPerTrajectoryFrame int               `json:"steps_per_trajectory_frame"`
}

type rawGameConfig struct {
	Rule      Rule                         `json:"rule"`
	Setting   curling.GameSetting          `json:"setting"`
	Simulator json.RawMessage              `json:"simulator"`
	Players   map[string][]json.RawMessage `json:"players"`
}

type rawConfig struct {
	Server           rawServerConfig `json:"server"`
	Game             rawGameConfig   `json:"game"`
	GameIsReady      json.RawMessage `json:"game_is_ready,omitempty"`
	GameIsReadyPatch json.RawMessage `json:"game_is_ready_patch,omitempty"`
}

// Parse decodes a config document, tolerating // line comments, and
// produces a validated Config.
func Parse(data []byte) (*Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("config: strip comments: %w", err)
	}

	var raw rawConfig
	if err := json.Unmarshal(standardized, &raw); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	cfg, err := fromRaw(raw, standardized)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromRaw(raw rawConfig, original []byte) (*Config, error) {
	cfg := &Config{}

	port0, ok0 := raw.Server.Port["0"]
	port1, ok1 := raw.Server.Port["1"]
	if !ok0 || !ok1 {
		return nil, fmt.Errorf("config: server.port must specify both \"0\" and \"1\"")
	}
	cfg.Server.Port = [2]uint16{port0, port1}
	cfg.Server.TimeoutDCOk = time.Duration(raw.Server.TimeoutDCOkMs) * time.Millisecond
	if raw.Server.UpdateIntervalMs != nil {
		cfg.Server.UpdateInterval = time.Duration(*raw.Server.UpdateIntervalMs) * time.Millisecond
	}
	cfg.Server.SendTrajectory = raw.Server.SendTrajectory
	cfg.Server.StepsPerTrajectoryFrame = raw.Server.StepsPerTrajectoryFrame

	cfg.Game.Rule = raw.Game.Rule
	cfg.Game.Setting = raw.Game.Setting

	simulator, err := curling.UnmarshalSimulatorFactory(raw.Game.Simulator)
	if err != nil {
		return nil, fmt.Errorf("config: game.simulator: %w", err)
	}
	cfg.Game.Simulator = simulator

	for _, team := range []string{"0", "1"} {
		idx := 0
		if team == "1" {
			idx = 1
		}
		for _, rawPlayer := range raw.Game.Players[team] {
			player, err := curling.UnmarshalPlayerFactory(rawPlayer)
			if err != nil {
				return nil, fmt.Errorf("config: game.players.%s: %w", team, err)
			}
			cfg.Game.Players[idx] = append(cfg.Game.Players[idx], player)
		}
	}

	if cfg.Game.Rule == RuleNormal {
		for i, players := range cfg.Game.Players {
			if len(players) != 4 {
				return nil, fmt.Errorf("config: game.players[%d]: rule %q requires exactly 4 players, got %d", i, RuleNormal, len(players))
			}
		}
	}

	gameIsReady, err := resolveGameIsReady(raw, original)
	if err != nil {
		return nil, err
	}
	cfg.GameIsReady = gameIsReady

	return cfg, nil
}

// resolveGameIsReady implements the mutual-exclusivity rule: exactly one
// of game_is_ready / game_is_ready_patch may be present; absent both, the
// whole game subtree is echoed verbatim.
func resolveGameIsReady(raw rawConfig, original []byte) (json.RawMessage, error) {
	if len(raw.GameIsReady) > 0 && len(raw.GameIsReadyPatch) > 0 {
		return nil, fmt.Errorf("config: specify only one of \"game_is_ready\" or \"game_is_ready_patch\"")
	}

	if len(raw.GameIsReady) > 0 {
		return raw.GameIsReady, nil
	}

	gameSubtree, err := extractGameSubtree(original)
	if err != nil {
		return nil, err
	}

	if len(raw.GameIsReadyPatch) > 0 {
		patch, err := jsonpatch.DecodePatch(raw.GameIsReadyPatch)
		if err != nil {
			return nil, fmt.Errorf("config: game_is_ready_patch: %w", err)
		}
		patched, err := patch.Apply(gameSubtree)
		if err != nil {
			return nil, fmt.Errorf("config: apply game_is_ready_patch: %w", err)
		}
		return patched, nil
	}

	return gameSubtree, nil
}

func extractGameSubtree(original []byte) (json.RawMessage, error) {
	var wrapper struct {
		Game json.RawMessage `json:"game"`
	}
	if err := json.Unmarshal(original, &wrapper); err != nil {
		return nil, fmt.Errorf("config: re-extract game subtree: %w", err)
	}
	return wrapper.Game, nil
}

// Validate checks the invariants Parse cannot express through decoding
// alone.
func (c *Config) Validate() error {
	if c.Server.Port[0] == 0 || c.Server.Port[1] == 0 {
		return fmt.Errorf("config: server.port entries must be nonzero")
	}
	if c.Server.Port[0] == c.Server.Port[1] {
		return fmt.Errorf("config: server.port[0] and port[1] must differ")
	}
	if c.Server.TimeoutDCOk <= 0 {
		return fmt.Errorf("config: server.timeout_dc_ok must be positive")
	}
	if c.Server.StepsPerTrajectoryFrame <= 0 {
		return fmt.Errorf("config: server.steps_per_trajectory_frame must be positive")
	}
	if c.Game.Rule != RuleNormal {
		return fmt.Errorf("config: game.rule %q is not a defined rule", c.Game.Rule)
	}
	if c.Game.Simulator == nil {
		return fmt.Errorf("config: game.simulator is required")
	}
	if len(c.GameIsReady) == 0 {
		return fmt.Errorf("config: game_is_ready resolution produced no value")
	}
	return nil
}

type wireServer struct {
	Port                    map[string]uint16 `json:"port"`
	TimeoutDCOk             int64             `json:"timeout_dc_ok"`
	UpdateInterval          *int64            `json:"update_interval,omitempty"`
	SendTrajectory          bool              `json:"send_trajectory"`
	StepsPerTrajectoryFrame int               `json:"steps_per_trajectory_frame"`
}

type wireGame struct {
	Rule      Rule                         `json:"rule"`
	Setting   curling.GameSetting          `json:"setting"`
	Simulator json.RawMessage              `json:"simulator"`
	Players   map[string][]json.RawMessage `json:"players"`
}

type wireConfig struct {
	Server      wireServer      `json:"server"`
	Game        wireGame        `json:"game"`
	GameIsReady json.RawMessage `json:"game_is_ready"`
}

// MarshalJSON re-serializes Config to the same wire shape Parse consumes.
func (c *Config) MarshalJSON() ([]byte, error) {
	var updateIntervalMs *int64
	if c.Server.UpdateInterval != 0 {
		ms := int64(c.Server.UpdateInterval / time.Millisecond)
		updateIntervalMs = &ms
	}

	simulatorJSON, err := json.Marshal(c.Game.Simulator)
	if err != nil {
		return nil, err
	}

	players := map[string][]json.RawMessage{}
	for i, team := range []string{"0", "1"} {
		for _, p := range c.Game.Players[i] {
			raw, err := json.Marshal(p)
			if err != nil {
				return nil, err
			}
			players[team] = append(players[team], raw)
		}
	}

	return json.Marshal(wireConfig{
		Server: wireServer{
			Port:                    map[string]uint16{"0": c.Server.Port[0], "1": c.Server.Port[1]},
			TimeoutDCOk:             int64(c.Server.TimeoutDCOk / time.Millisecond),
			UpdateInterval:          updateIntervalMs,
			SendTrajectory:          c.Server.SendTrajectory,
			StepsPerTrajectoryFrame: c.Server.StepsPerTrajectoryFrame,
		},
		Game: wireGame{
			Rule:      c.Game.Rule,
			Setting:   c.Game.Setting,
			Simulator: simulatorJSON,
			Players:   players,
		},
		GameIsReady: c.GameIsReady,
	})
}
