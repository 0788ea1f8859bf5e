// Package match implements the protocol finite-state machine that drives
// one curling match between two connected peers: the handshake, the
// ready barrier, turn alternation through the rules library, and the
// terminal game-over broadcast.
package match

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"example.com/curling-match-server/internal/config"
	"example.com/curling-match-server/internal/curling"
	"example.com/curling-match-server/internal/history"
	"example.com/curling-match-server/internal/logsink"
	"example.com/curling-match-server/internal/trajectory"
	"example.com/curling-match-server/internal/wire"
)

// PeerSession is the subset of *session.Session the Game needs: enqueue an
// outbound message, optionally arming the next input deadline. Decoupling
// on this interface keeps this package free of any import of the session
// package's goroutine machinery.
type PeerSession interface {
	Deliver(message []byte, inputTimeout *time.Duration)
}

// pendingMove caches the outcome of the most recently applied shot so the
// next update can attach it without recomputing it.
type pendingMove struct {
	actualMove        curling.Move
	freeGuardZoneFoul bool
	trajectory        json.RawMessage
}

// Game owns everything a running match needs: the two client records, the
// live simulator and rules state, the trajectory compressor, and the
// frozen/mutable protocol envelopes. One Game serves exactly one match; it
// is not reused.
type Game struct {
	mu sync.Mutex

	cfg        *config.Config
	matchID    string
	launchTime time.Time
	dc         wire.DC

	clients  [2]*client
	sessions [2]PeerSession

	sim        curling.ISimulator
	state      *curling.GameState
	compressor trajectory.Compressor

	log *logsink.Sink

	pending *pendingMove

	// OnGameOver fires once, after the game_over envelope has been logged
	// and delivered, letting the server store the match history (built
	// with Summary) without Game calling any store itself.
	OnGameOver func(state *curling.GameState)

	// OnUpdate fires after every non-terminal update is delivered, letting
	// the server refresh a live-match heartbeat without this package
	// knowing it exists.
	OnUpdate func(state *curling.GameState)
}

// New builds a Game ready to accept two session starts. matchID and
// launchTime are generated by the caller (internal/app) so they can also
// name the per-match log directory.
func New(cfg *config.Config, matchID string, launchTime time.Time, log *logsink.Sink) *Game {
	g := &Game{
		cfg:        cfg,
		matchID:    matchID,
		launchTime: launchTime,
		dc:         wire.NewDC(matchID, launchTime.Format("2006-01-02T15:04:05-07:00")),
		sim:        cfg.Game.Simulator.CreateSimulator(),
		state:      curling.NewGameState(cfg.Game.Setting),
		log:        log,
	}

	for i := range g.clients {
		factories := cfg.Game.Players[i]
		c := &client{team: curling.Team(i), playerFactories: factories}
		for _, f := range factories {
			c.players = append(c.players, f.CreatePlayer())
		}
		g.clients[i] = c
	}

	return g
}

// HandlerFor returns the session.Handler-shaped adapter for one team's
// session; the server wires this into session.New.
func (g *Game) HandlerFor(team curling.Team) *ClientHandler {
	return &ClientHandler{game: g, team: team}
}

// MatchID returns the identifier this Game was constructed with.
func (g *Game) MatchID() string {
	return g.matchID
}

// Summary builds the persisted-history record for a finished game.
func (g *Game) Summary(state *curling.GameState) history.MatchSummary {
	return history.MatchSummary{
		MatchID:    g.matchID,
		LaunchTime: g.launchTime,
		FinishTime: time.Now(),
		Winner:     state.GameResult.Winner,
		Score0:     state.GetTotalScore(curling.Team0),
		Score1:     state.GetTotalScore(curling.Team1),
		Ends:       int(state.CurrentEnd) + 1,
	}
}

// ClientHandler adapts one team's slice of Game callbacks to the generic
// session.Handler interface (OnLine/OnTimeout/OnStop), so session need not
// know anything about teams or the match FSM.
type ClientHandler struct {
	game *Game
	team curling.Team
}

func (h *ClientHandler) OnLine(line []byte, elapsed time.Duration) error {
	return h.game.onLine(h.team, line, elapsed)
}

func (h *ClientHandler) OnTimeout() error {
	return h.game.onTimeout(h.team)
}

func (h *ClientHandler) OnStop() error {
	return h.game.onStop(h.team)
}

// OnSessionStart registers team's session and sends the opening dc
// handshake. Precondition: the client has not started yet.
func (g *Game) OnSessionStart(team curling.Team, sess PeerSession) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.clients[team]
	if c.state != BeforeSessionStart {
		return fmt.Errorf("match: %s: session start in state %s", team, c.state)
	}
	g.sessions[team] = sess
	c.state = DC

	data, err := json.Marshal(g.dc)
	if err != nil {
		return fmt.Errorf("match: encode dc: %w", err)
	}
	timeout := g.cfg.Server.TimeoutDCOk
	g.sessions[team].Deliver(data, &timeout)
	return nil
}

func (g *Game) onLine(team curling.Team, line []byte, elapsed time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.clients[team]

	cmd, err := wire.PeekCmd(line)
	if err != nil {
		return fmt.Errorf("match: %s: %w", team, err)
	}

	switch c.state {
	case DC:
		if cmd != "dc_ok" {
			return fmt.Errorf("match: %s: expected dc_ok in state dc, got %q", team, cmd)
		}
		var msg wire.DCOk
		if err := json.Unmarshal(line, &msg); err != nil {
			return fmt.Errorf("match: %s: decode dc_ok: %w", team, err)
		}
		c.name = msg.Name
		c.state = Ready
		return g.deliverIsReady(team)

	case Ready:
		if cmd != "ready_ok" {
			return fmt.Errorf("match: %s: expected ready_ok in state ready, got %q", team, cmd)
		}
		var msg wire.ReadyOk
		if err := json.Unmarshal(line, &msg); err != nil {
			return fmt.Errorf("match: %s: decode ready_ok: %w", team, err)
		}
		if !isPermutation(msg.PlayerOrder, len(c.players)) {
			return fmt.Errorf("match: %s: ready_ok player_order %v is not a permutation of %d players", team, msg.PlayerOrder, len(c.players))
		}
		c.playerOrder = msg.PlayerOrder
		c.state = NewGame

		other := g.clients[team.Opponent()]
		if other.state == NewGame {
			return g.fireNewGameBarrier()
		}
		return nil

	case MyTurn:
		if cmd != "move" {
			return fmt.Errorf("match: %s: expected move in state my_turn, got %q", team, cmd)
		}
		var msg wire.Move
		if err := json.Unmarshal(line, &msg); err != nil {
			return fmt.Errorf("match: %s: decode move: %w", team, err)
		}
		if err := g.applyMove(team, msg.Move, elapsed); err != nil {
			return err
		}
		return g.deliverUpdate()

	case OpponentTurn:
		return fmt.Errorf("match: %s: unexpected message %q while opponent's turn", team, cmd)

	case GameOver:
		g.log.Warning(fmt.Sprintf("match: %s: ignoring message %q after game over", team, cmd))
		return nil

	default:
		return fmt.Errorf("match: %s: unexpected message %q in state %s", team, cmd, c.state)
	}
}

func (g *Game) deliverIsReady(team curling.Team) error {
	teamIdx := int(team)
	data, err := json.Marshal(wire.NewIsReady(g.cfg.GameIsReady, teamIdx))
	if err != nil {
		return fmt.Errorf("match: encode is_ready: %w", err)
	}
	g.sessions[team].Deliver(data, nil)
	return nil
}

func (g *Game) onTimeout(team curling.Team) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.clients[team]
	if c.state != MyTurn {
		return fmt.Errorf("match: %s: input timeout in state %s", team, c.state)
	}

	if err := g.applyMove(team, curling.Concede(), time.Duration(1<<62)); err != nil {
		return err
	}
	return g.deliverUpdate()
}

func (g *Game) onStop(team curling.Team) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.clients[team]
	if c.state != GameOver {
		return fmt.Errorf("match: %s: disconnected at inappropriate time (state %s)", team, c.state)
	}
	return nil
}

// applyMove resolves the throwing player, logs the move, runs it through
// the rules library while streaming steps into the trajectory compressor,
// emits the shot record, and stashes actual_move and the trajectory
// fragment for the next update.
func (g *Game) applyMove(team curling.Team, mv curling.Move, elapsed time.Duration) error {
	c := g.clients[team]
	endBefore, shotBefore := g.state.CurrentEnd, g.state.Shot

	var player curling.IPlayer
	if !mv.IsConcede {
		slot := g.state.PlayerIndex()
		if slot >= len(c.playerOrder) {
			return fmt.Errorf("match: %s: shot slot %d exceeds registered player count", team, slot)
		}
		player = c.playerFor(slot)
	}

	g.log.Game(moveLogRecord{Cmd: "move", Team: int(team), Move: mv})

	g.compressor.Begin(g.cfg.Server.StepsPerTrajectoryFrame, g.state.CurrentEnd)

	var result curling.ApplyMoveResult
	actual, err := curling.ApplyMove(g.cfg.Game.Setting, g.sim, player, g.state, mv, elapsed, &result, g.compressor.OnStep)
	if err != nil {
		return fmt.Errorf("match: %s: apply move: %w", team, err)
	}
	g.compressor.End(g.sim)

	trajResult := g.compressor.GetResult()
	trajJSON, err := json.Marshal(trajResult)
	if err != nil {
		return fmt.Errorf("match: encode trajectory: %w", err)
	}

	shotRecord := shotLogRecord{
		Cmd:          "shot",
		SelectedMove: mv,
		ActualMove:   actual,
		Trajectory:   trajResult,
	}
	if err := g.log.Shot(shotRecord, endBefore, shotBefore); err != nil {
		return fmt.Errorf("match: write shot record: %w", err)
	}

	g.pending = &pendingMove{
		actualMove:        actual,
		freeGuardZoneFoul: result.FreeGuardZoneFoul,
		trajectory:        trajJSON,
	}

	if g.state.Shot == 0 {
		g.log.Info(fmt.Sprintf("end %d closed: team0=%d team1=%d", endBefore,
			g.state.GetTotalScore(curling.Team0), g.state.GetTotalScore(curling.Team1)))
	}

	return nil
}

// deliverUpdate broadcasts the post-shot state to both peers, advancing
// each client's FSM state and, on a terminal state, sending game_over.
func (g *Game) deliverUpdate() error {
	update := wire.Update{
		Cmd:      "update",
		NextTeam: g.state.GetNextTeam(),
		State:    g.state,
	}
	if g.pending != nil {
		update.LastMove = &wire.LastMove{
			ActualMove:        g.pending.actualMove,
			FreeGuardZoneFoul: g.pending.freeGuardZoneFoul,
		}
	}
	g.log.Game(update)

	if g.cfg.Server.SendTrajectory && g.pending != nil {
		update.LastMove.Trajectory = g.pending.trajectory
	}
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("match: encode update: %w", err)
	}

	if g.state.IsGameOver() {
		g.clients[curling.Team0].state = GameOver
		g.clients[curling.Team1].state = GameOver
		g.sessions[curling.Team0].Deliver(data, nil)
		g.sessions[curling.Team1].Deliver(data, nil)

		over := wire.NewGameOver()
		g.log.Game(over)
		overData, err := json.Marshal(over)
		if err != nil {
			return fmt.Errorf("match: encode game_over: %w", err)
		}
		g.sessions[curling.Team0].Deliver(overData, nil)
		g.sessions[curling.Team1].Deliver(overData, nil)

		g.log.Info(winnerSummary(g.state))
		if g.OnGameOver != nil {
			g.OnGameOver(g.state)
		}
		return nil
	}

	nextTeam := g.state.GetNextTeam()
	other := nextTeam.Opponent()
	g.clients[nextTeam].state = MyTurn
	g.clients[other].state = OpponentTurn

	timeout := g.state.ThinkingTimeRemaining[nextTeam]
	g.sessions[nextTeam].Deliver(data, &timeout)
	g.sessions[other].Deliver(data, nil)

	g.log.Info(fmt.Sprintf("end %d shot %d: %s to move", g.state.CurrentEnd, g.state.Shot, nextTeam))
	if g.OnUpdate != nil {
		g.OnUpdate(g.state)
	}
	return nil
}

func winnerSummary(state *curling.GameState) string {
	if state.GameResult.Winner == nil {
		return "game over: draw"
	}
	return fmt.Sprintf("game over: %s wins %d-%d", *state.GameResult.Winner,
		state.GetTotalScore(curling.Team0), state.GetTotalScore(curling.Team1))
}

// fireNewGameBarrier fires once both clients have sent ready_ok: it replays
// the handshake into the game log, broadcasts new_game, then sends the
// opening update.
func (g *Game) fireNewGameBarrier() error {
	g.log.Game(g.dc)

	hostname, _ := os.Hostname()
	g.log.Game(metaSpecRecord{Cmd: "meta/spec", Hostname: hostname})

	configJSON, err := json.Marshal(g.cfg)
	if err != nil {
		return fmt.Errorf("match: encode config: %w", err)
	}
	configAllJSON, err := g.configAllJSON()
	if err != nil {
		return err
	}
	g.log.Game(metaConfigRecord{Cmd: "meta/config", Config: configJSON, ConfigAll: configAllJSON})

	for i, c := range g.clients {
		g.log.Game(dcOkLogRecord{Cmd: "dc_ok", Team: i, Name: c.name})
	}

	g.log.Game(wire.IsReady{Cmd: "is_ready", Game: g.cfg.GameIsReady, Team: nil})

	for i, c := range g.clients {
		g.log.Game(readyOkLogRecord{Cmd: "ready_ok", Team: i, PlayerOrder: c.playerOrder})
	}

	newGame := wire.NewNewGame(g.clients[0].name, g.clients[1].name)
	g.log.Game(newGame)

	data, err := json.Marshal(newGame)
	if err != nil {
		return fmt.Errorf("match: encode new_game: %w", err)
	}
	g.sessions[curling.Team0].Deliver(data, nil)
	g.sessions[curling.Team1].Deliver(data, nil)

	return g.deliverUpdate()
}

// configAllJSON re-serializes the parsed config with the simulator and
// player factories swapped for clones of the ones the live match actually
// constructed, so the replay config in the game log matches what was
// actually played rather than the factories' initial seed state.
func (g *Game) configAllJSON() (json.RawMessage, error) {
	replay := *g.cfg
	replay.Game.Simulator = g.sim.GetFactory().Clone()

	var players [2][]curling.IPlayerFactory
	for i, c := range g.clients {
		for _, f := range c.playerFactories {
			players[i] = append(players[i], f.Clone())
		}
	}
	replay.Game.Players = players

	return replay.MarshalJSON()
}

// moveLogRecord, shotLogRecord, and the new-game-barrier replay records are
// defined here rather than in package wire because they only ever appear
// in the game log, never on the wire to a peer.
type moveLogRecord struct {
	Cmd  string       `json:"cmd"`
	Team int          `json:"team"`
	Move curling.Move `json:"move"`
}

type shotLogRecord struct {
	Cmd          string            `json:"cmd"`
	SelectedMove curling.Move      `json:"selected_move"`
	ActualMove   curling.Move      `json:"actual_move"`
	Trajectory   trajectory.Result `json:"trajectory"`
}

type metaSpecRecord struct {
	Cmd      string `json:"cmd"`
	Hostname string `json:"hostname"`
}

type metaConfigRecord struct {
	Cmd       string          `json:"cmd"`
	Config    json.RawMessage `json:"config"`
	ConfigAll json.RawMessage `json:"config_all"`
}

type dcOkLogRecord struct {
	Cmd  string `json:"cmd"`
	Team int    `json:"team"`
	Name string `json:"name"`
}

type readyOkLogRecord struct {
	Cmd         string `json:"cmd"`
	Team        int    `json:"team"`
	PlayerOrder []int  `json:"player_order"`
}
