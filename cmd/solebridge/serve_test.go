package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/solebridge/internal/hub"
	"github.com/srg/solebridge/internal/testutils"
	"github.com/srg/solebridge/pkg/config"
	"github.com/stretchr/testify/suite"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const waitFor = 3 * time.Second

var viewerURL = regexp.MustCompile(`ws://([^/\s]+)/ws`)

type ServeSuite struct {
	CommandTestSuite

	cfg     *config.Config
	out     *syncBuffer
	cancel  context.CancelFunc
	serveCh chan error
	addr    string
}

func (s *ServeSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()

	s.cfg = config.DefaultConfig()
	s.cfg.Host = "127.0.0.1"
	s.cfg.Port = 0
	s.cfg.ScanRestartDelay = 50 * time.Millisecond
	s.cfg.ShutdownTimeout = 2 * time.Second
	s.Require().NoError(s.cfg.Validate())

	// bridge goroutines may outlive the test, so they must not log through t
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.out = &syncBuffer{}
	s.serveCh = make(chan error, 1)
	go func() {
		s.serveCh <- serve(ctx, s.cfg, s.Radio, logger, s.out)
	}()

	s.Require().Eventually(func() bool {
		return viewerURL.MatchString(s.out.String())
	}, waitFor, 5*time.Millisecond, "banner MUST announce the viewer endpoint")
	s.addr = viewerURL.FindStringSubmatch(s.out.String())[1]
}

func (s *ServeSuite) TearDownTest() {
	s.cancel()
	select {
	case err := <-s.serveCh:
		s.NoError(err, "graceful shutdown MUST NOT report an error")
	case <-time.After(waitFor):
		s.Fail("serve did not return after cancellation")
	}
	s.True(s.Radio.IsClosed(), "radio MUST be closed on exit")
	s.CommandTestSuite.TearDownTest()
}

func (s *ServeSuite) dial() *websocket.Conn {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+s.addr+"/ws", nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// next reads frames until one satisfies match.
func (s *ServeSuite) next(conn *websocket.Conn, match func(hub.Frame) bool) hub.Frame {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	for {
		var f hub.Frame
		s.Require().NoError(wsjson.Read(ctx, conn, &f), "expected frame MUST arrive")
		if match(f) {
			return f
		}
	}
}

func leftConnected(f hub.Frame) bool {
	if f.Event != hub.EventStatus {
		return false
	}
	var st struct {
		Left struct {
			Connected bool `json:"connected"`
		} `json:"left"`
	}
	return json.Unmarshal(f.Data, &st) == nil && st.Left.Connected
}

func (s *ServeSuite) TestBannerAndStatusAPI() {
	// GOAL: Verify the bridge announces its endpoints and answers the status API before any insole connects
	//
	// TEST SCENARIO: Fresh bridge → banner lists both insole names, /api/status shows both slots idle with zero counters

	s.Contains(s.out.String(), "ESP32_LeftFoot / ESP32_RightFoot (binary)")
	s.Contains(s.out.String(), "http://"+s.addr+"/api/status")

	s.Require().Eventually(s.Radio.IsScanning, waitFor, 5*time.Millisecond, "bridge MUST start scanning")

	resp, err := http.Get("http://" + s.addr + "/api/status")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(string(body), `{
		"status": {
			"left": {"connected": false, "connecting": false, "targetName": "ESP32_LeftFoot"},
			"right": {"connected": false, "connecting": false, "targetName": "ESP32_RightFoot"},
			"scanning": true
		},
		"stats": {
			"left": {"frames": 0, "malformed": 0},
			"right": {"frames": 0, "malformed": 0}
		}
	}`)
}

func (s *ServeSuite) TestEndToEnd() {
	// GOAL: Verify the full path from discovery to viewer and back to the insole actuator
	//
	// TEST SCENARIO: Viewer joins → left insole discovered → connected status → reading relayed →
	//                buzzer command written to the insole → shutdown disconnects it

	conn := s.dial()
	first := s.next(conn, func(f hub.Frame) bool { return true })
	s.Equal(hub.EventStatus, first.Event, "first frame MUST be the current status")

	s.Require().Eventually(s.Radio.IsScanning, waitFor, 5*time.Millisecond)
	peer := testutils.NewFakePeer("ESP32_LeftFoot", "AA:BB:CC:DD:EE:01").
		WithSensorProfile(s.cfg.ServiceUUID, s.cfg.NotifyUUID, s.cfg.WriteUUID)
	s.Radio.Discover(peer)

	s.next(conn, leftConnected)

	notify := peer.Client.Characteristic(s.cfg.NotifyUUID)
	s.Require().NotNil(notify)
	s.Require().True(notify.Notify([]byte{1, 0, 2, 0, 3, 0, 4, 0, 5, 0, 6, 0, 7, 0, 8, 0}))

	reading := s.next(conn, func(f hub.Frame) bool { return f.Event == "pressure-data-left" })
	s.JSONEq(`[1,2,3,4,5,6,7,8]`, string(reading.Data))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	s.Require().NoError(wsjson.Write(ctx, conn, map[string]any{
		"event": "buzzer",
		"data":  map[string]any{"device": "left", "on": true},
	}))

	select {
	case b := <-peer.Client.Characteristic(s.cfg.WriteUUID).Written():
		s.Equal([]byte{1}, b, "buzzer on MUST write 0x01")
	case <-ctx.Done():
		s.FailNow("buzzer command MUST reach the insole")
	}

	s.cancel()
	s.Require().Eventually(func() bool { return peer.Client.DisconnectCalls() == 1 }, waitFor, 5*time.Millisecond,
		"shutdown MUST disconnect the connected insole")
}

func TestServeSuite(t *testing.T) {
	suite.Run(t, new(ServeSuite))
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	s := new(CommandTestSuite)
	s.SetT(t)
	s.SetupTest()
	defer s.TearDownTest()

	_, _, err := s.ExecuteCommand(context.Background(), "serve", "--wire-format", "hex")
	if err == nil {
		t.Fatal("serve MUST refuse an unknown wire format")
	}
	select {
	case <-s.Radio.Opened():
		t.Fatal("radio MUST NOT be opened when the configuration is invalid")
	default:
	}
}
