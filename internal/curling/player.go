package curling

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
)

// IPlayer executes a chosen Move, optionally perturbing it to model a
// human or AI's imprecision. ApplyMove records whatever Throw returns as
// the shot's actual_move.
type IPlayer interface {
	Throw(move Move) Move
}

// IPlayerFactory builds players and round-trips through JSON via a "kind"
// discriminator, the same tagged-variant shape as ISimulatorFactory.
type IPlayerFactory interface {
	Kind() string
	Clone() IPlayerFactory
	CreatePlayer() IPlayer
}

// UnmarshalPlayerFactory decodes a tagged {"kind": "...", ...} payload into
// the concrete factory type it names.
func UnmarshalPlayerFactory(data []byte) (IPlayerFactory, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("curling: player factory: %w", err)
	}
	switch probe.Kind {
	case "ideal", "":
		f := &IdealPlayerFactory{}
		if err := json.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("curling: ideal player factory: %w", err)
		}
		return f, nil
	case "gaussian":
		f := &GaussianPlayerFactory{}
		if err := json.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("curling: gaussian player factory: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("curling: unknown player kind %q", probe.Kind)
	}
}

// IdealPlayerFactory produces players that throw exactly the requested
// move, with no execution noise.
type IdealPlayerFactory struct {
	Kind_ string `json:"kind"`
}

func (f *IdealPlayerFactory) Kind() string { return "ideal" }

func (f *IdealPlayerFactory) Clone() IPlayerFactory { return &IdealPlayerFactory{} }

func (f *IdealPlayerFactory) CreatePlayer() IPlayer { return idealPlayer{} }

func (f *IdealPlayerFactory) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind string `json:"kind"`
	}{Kind: "ideal"})
}

type idealPlayer struct{}

func (idealPlayer) Throw(move Move) Move { return move }

// GaussianPlayerFactory produces players that perturb the requested
// velocity by Gaussian noise, modeling a fallible thrower.
type GaussianPlayerFactory struct {
	Kind_         string  `json:"kind"`
	SigmaVelocity float64 `json:"sigma_velocity"`
	Seed          int64   `json:"seed,omitempty"`
}

func (f *GaussianPlayerFactory) Kind() string { return "gaussian" }

func (f *GaussianPlayerFactory) Clone() IPlayerFactory {
	clone := *f
	return &clone
}

func (f *GaussianPlayerFactory) CreatePlayer() IPlayer {
	src := rand.NewSource(f.Seed)
	return &gaussianPlayer{sigma: f.SigmaVelocity, rng: rand.New(src)}
}

func (f *GaussianPlayerFactory) MarshalJSON() ([]byte, error) {
	type wire GaussianPlayerFactory
	w := wire(*f)
	w.Kind_ = "gaussian"
	return json.Marshal(w)
}

type gaussianPlayer struct {
	sigma float64
	rng   *rand.Rand
}

func (p *gaussianPlayer) Throw(move Move) Move {
	if move.IsConcede || p.sigma == 0 {
		return move
	}
	speed := math.Hypot(move.Velocity.X, move.Velocity.Y)
	angle := math.Atan2(move.Velocity.Y, move.Velocity.X)
	noisySpeed := speed + p.rng.NormFloat64()*p.sigma
	noisyAngle := angle + p.rng.NormFloat64()*p.sigma*0.01
	move.Velocity = Vector2{
		X: noisySpeed * math.Cos(noisyAngle),
		Y: noisySpeed * math.Sin(noisyAngle),
	}
	return move
}
