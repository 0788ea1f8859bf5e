package server

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/curling-match-server/internal/config"
	"example.com/curling-match-server/internal/curling"
	"example.com/curling-match-server/internal/logsink"
	"example.com/curling-match-server/internal/match"
)

func fourIdealFactories() []curling.IPlayerFactory {
	var out []curling.IPlayerFactory
	for i := 0; i < 4; i++ {
		out = append(out, &curling.IdealPlayerFactory{})
	}
	return out
}

func freePorts(t *testing.T) [2]uint16 {
	t.Helper()
	var ports [2]uint16
	for i := range ports {
		l, err := net.Listen("tcp", ":0")
		require.NoError(t, err)
		ports[i] = uint16(l.Addr().(*net.TCPAddr).Port)
		require.NoError(t, l.Close())
	}
	return ports
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Port:                    freePorts(t),
			TimeoutDCOk:             2 * time.Second,
			SendTrajectory:          true,
			StepsPerTrajectoryFrame: 4,
		},
		Game: config.GameConfig{
			Rule: config.RuleNormal,
			Setting: curling.GameSetting{
				MaxEnd:               8,
				ThinkingTime:         5 * time.Minute,
				ExtraEndThinkingTime: 90 * time.Second,
				SheetWidth:           4.75,
				HouseRadius:          1.829,
			},
			Simulator: &curling.BasicSimulatorFactory{Friction: 0.5, FPS: 50},
			Players:   [2][]curling.IPlayerFactory{fourIdealFactories(), fourIdealFactories()},
		},
		GameIsReady: json.RawMessage(`{"rule":"normal"}`),
	}
}

func testSink(t *testing.T) *logsink.Sink {
	t.Helper()
	base := t.TempDir()
	sink, err := logsink.New(filepath.Join(base, "log"), filepath.Join(base, "log", "match"), false, false)
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })
	return sink
}

func newTestServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()
	cfg := testConfig(t)
	g := match.New(cfg, "match-1", time.Now(), testSink(t))
	s, err := New(cfg, g, testSink(t), Options{})
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s, cfg
}

func readLine(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestServer_AcceptsOneConnectionPerPort_AndSendsDC(t *testing.T) {
	s, cfg := newTestServer(t)
	s.Start()

	conn0, err := net.Dial("tcp", "127.0.0.1:"+portStr(cfg.Server.Port[0]))
	require.NoError(t, err)
	defer conn0.Close()

	conn1, err := net.Dial("tcp", "127.0.0.1:"+portStr(cfg.Server.Port[1]))
	require.NoError(t, err)
	defer conn1.Close()

	line0 := readLine(t, conn0)
	assert.Contains(t, line0, `"cmd":"dc"`)

	line1 := readLine(t, conn1)
	assert.Contains(t, line1, `"cmd":"dc"`)
}

func portStr(p uint16) string {
	return strconv.Itoa(int(p))
}

func TestServer_HandleError_StopsListenersAndSessions(t *testing.T) {
	s, cfg := newTestServer(t)
	s.Start()

	conn0, err := net.Dial("tcp", "127.0.0.1:"+portStr(cfg.Server.Port[0]))
	require.NoError(t, err)
	defer conn0.Close()

	conn1, err := net.Dial("tcp", "127.0.0.1:"+portStr(cfg.Server.Port[1]))
	require.NoError(t, err)
	defer conn1.Close()

	readLine(t, conn0)
	readLine(t, conn1)

	s.HandleError(assert.AnError)

	conn0.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 8)
	_, err = conn0.Read(buf)
	assert.Error(t, err, "the session's socket should be closed once the server stops")
}

func TestServer_DeliverMessage_WithNoSession_IsAnError(t *testing.T) {
	s, _ := newTestServer(t)
	err := s.DeliverMessage(curling.Team0, []byte(`{"cmd":"dc"}`), nil)
	assert.Error(t, err)
}
