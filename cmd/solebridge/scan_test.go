package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/srg/solebridge/internal/testutils"
	"github.com/srg/solebridge/scanner"
	"github.com/stretchr/testify/suite"
)

type ScanCommandSuite struct {
	CommandTestSuite
}

type commandResult struct {
	stdout string
	stderr string
	err    error
}

// scan runs the scan command and reports the peers once the radio is scanning.
func (s *ScanCommandSuite) scan(peers []*testutils.FakePeer, args ...string) commandResult {
	done := make(chan commandResult, 1)
	go func() {
		out, errOut, err := s.ExecuteCommand(context.Background(), append([]string{"scan"}, args...)...)
		done <- commandResult{out, errOut, err}
	}()

	s.Require().Eventually(s.Radio.IsScanning, 2*time.Second, 5*time.Millisecond, "radio MUST be scanning")
	for _, p := range peers {
		s.Radio.Discover(p)
	}

	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		s.FailNow("scan command did not finish")
		return commandResult{}
	}
}

func (s *ScanCommandSuite) peers() []*testutils.FakePeer {
	return []*testutils.FakePeer{
		testutils.NewFakePeer("ESP32_RightFoot", "AA:BB:CC:DD:EE:02").WithRSSI(-70),
		testutils.NewFakePeer("Thermometer", "11:22:33:44:55:66").WithRSSI(-60),
		testutils.NewFakePeer("ESP32_LeftFoot", "AA:BB:CC:DD:EE:01").WithRSSI(-45),
	}
}

func (s *ScanCommandSuite) TestJSONOutputMatchesSlots() {
	// GOAL: Verify scan results are sorted by signal strength and tagged with the slot they would bind to
	//
	// TEST SCENARIO: Left, Right and an unrelated peer discovered → JSON array, strongest first, match set for insoles

	r := s.scan(s.peers(), "--duration", "200ms", "--format", "json")
	s.Require().NoError(r.err)

	testutils.NewJSONAsserter(s.T()).
		WithOptions(testutils.WithIgnoredFields("lastSeen")).
		Assert(r.stdout, `[
			{"name": "ESP32_LeftFoot", "address": "AA:BB:CC:DD:EE:01", "rssi": -45, "seen": 1, "match": "left"},
			{"name": "Thermometer", "address": "11:22:33:44:55:66", "rssi": -60, "seen": 1},
			{"name": "ESP32_RightFoot", "address": "AA:BB:CC:DD:EE:02", "rssi": -70, "seen": 1, "match": "right"}
		]`)
	s.NotContains(r.stdout, `"match": ""`, "unmatched peers MUST omit the match field")
	s.True(s.Radio.IsClosed(), "radio MUST be closed after the scan")
}

func (s *ScanCommandSuite) TestTableUsesConfiguredNames() {
	// GOAL: Verify --left-name/--right-name change which peers are matched
	//
	// TEST SCENARIO: Custom names, only the Thermometer matches left → table shows left for it and - for others

	r := s.scan(s.peers(), "--duration", "200ms", "--left-name", "Thermo", "--right-name", "Nothing")
	s.Require().NoError(r.err)

	testutils.NewTextAsserter(s.T()).Assert(r.stdout, `SLOT  NAME             ADDRESS            RSSI     SEEN
-     ESP32_LeftFoot   AA:BB:CC:DD:EE:01  -45 dBm  1
left  Thermometer      11:22:33:44:55:66  -60 dBm  1
-     ESP32_RightFoot  AA:BB:CC:DD:EE:02  -70 dBm  1
`)
}

func (s *ScanCommandSuite) TestBlockList() {
	r := s.scan(s.peers(), "--duration", "200ms", "--format", "json", "--block", "11:22:33:44:55:66")
	s.Require().NoError(r.err)

	var results []scanner.Result
	s.Require().NoError(json.Unmarshal([]byte(r.stdout), &results))
	s.Len(results, 2, "blocked peer MUST be hidden")
}

func (s *ScanCommandSuite) TestNothingFound() {
	r := s.scan(nil, "--duration", "100ms")
	s.Require().NoError(r.err)
	s.Equal("No insoles discovered\n", r.stdout)
}

func (s *ScanCommandSuite) TestRejectsInvalidFlags() {
	_, _, err := s.ExecuteCommand(context.Background(), "scan", "--format", "xml")
	s.ErrorContains(err, "invalid format 'xml'")

	_, _, err = s.ExecuteCommand(context.Background(), "scan", "--left-name", "Same", "--right-name", "Same")
	s.ErrorContains(err, "must differ")
}

func TestScanCommandSuite(t *testing.T) {
	suite.Run(t, new(ScanCommandSuite))
}
