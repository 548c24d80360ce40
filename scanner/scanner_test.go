package scanner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/solebridge/internal/device"
	"github.com/srg/solebridge/internal/testutils"
	"github.com/srg/solebridge/scanner"
	"github.com/stretchr/testify/require"
	suitelib "github.com/stretchr/testify/suite"
)

const serviceUUID = "4fafc201-1fb5-459e-8fcc-c5c9c331914c"

type ScannerTestSuite struct {
	suitelib.Suite

	helper *testutils.TestHelper
	radio  *testutils.FakeAdapter
	left   *testutils.FakePeer
	right  *testutils.FakePeer
	other  *testutils.FakePeer
}

func (suite *ScannerTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.radio = testutils.NewFakeAdapter()
	suite.left = testutils.NewFakePeer("ESP32_LeftFoot", "AA:BB:CC:DD:EE:01").WithRSSI(-45)
	suite.right = testutils.NewFakePeer("ESP32_RightFoot", "AA:BB:CC:DD:EE:02").WithRSSI(-70)
	suite.other = testutils.NewFakePeer("Thermometer", "11:22:33:44:55:66").WithRSSI(-60)
}

// scan runs a scan in the background and feeds peers once the radio is scanning.
func (suite *ScannerTestSuite) scan(opts *scanner.Options, peers ...device.Peer) ([]scanner.Result, error) {
	s, err := scanner.NewScanner(suite.radio, suite.helper.Logger)
	suite.Require().NoError(err)

	type outcome struct {
		results []scanner.Result
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := s.Scan(context.Background(), opts, nil)
		done <- outcome{r, err}
	}()

	suite.Require().Eventually(suite.radio.IsScanning, time.Second, 5*time.Millisecond, "radio MUST be scanning")
	for _, p := range peers {
		suite.radio.Discover(p)
	}

	select {
	case o := <-done:
		return o.results, o.err
	case <-time.After(2 * time.Second):
		suite.FailNow("scan did not finish")
		return nil, nil
	}
}

func (suite *ScannerTestSuite) options() *scanner.Options {
	opts := scanner.DefaultOptions(serviceUUID)
	opts.Duration = 150 * time.Millisecond
	opts.Targets = []scanner.Target{
		{Label: "left", Pattern: "ESP32_LeftFoot"},
		{Label: "right", Pattern: "ESP32_RightFoot"},
	}
	return opts
}

func (suite *ScannerTestSuite) TestNewScanner() {
	suite.Run("creates scanner with nil logger", func() {
		s, err := scanner.NewScanner(suite.radio, nil)
		suite.NoError(err)
		suite.NotNil(s)
	})

	suite.Run("rejects nil radio", func() {
		_, err := scanner.NewScanner(nil, suite.helper.Logger)
		suite.Error(err)
	})
}

func (suite *ScannerTestSuite) TestDefaultOptions() {
	opts := scanner.DefaultOptions(serviceUUID)

	suite.Equal(10*time.Second, opts.Duration)
	suite.Equal(serviceUUID, opts.ServiceUUID)
	suite.True(opts.DuplicateFilter)
	suite.Nil(opts.AllowList)
	suite.Nil(opts.BlockList)
}

func (suite *ScannerTestSuite) TestResultsSortedAndMatched() {
	// GOAL: Verify discovered peers are listed strongest first with the slot their name would match
	//
	// TEST SCENARIO: Three peers, one seen twice → sorted by RSSI, match labels set, seen count 2

	results, err := suite.scan(suite.options(), suite.right, suite.left, suite.other, suite.left)
	suite.Require().NoError(err)

	expected := `{"array": [
		{"name": "ESP32_LeftFoot", "address": "AA:BB:CC:DD:EE:01", "rssi": -45, "seen": 2, "match": "left"},
		{"name": "Thermometer", "address": "11:22:33:44:55:66", "rssi": -60, "seen": 1},
		{"name": "ESP32_RightFoot", "address": "AA:BB:CC:DD:EE:02", "rssi": -70, "seen": 1, "match": "right"}
	]}`

	testutils.NewJSONAsserter(suite.T()).
		WithOptions(testutils.WithIgnoredFields("lastSeen")).
		AssertValue(map[string][]scanner.Result{"array": results}, expected)
	suite.False(suite.radio.IsScanning(), "scan MUST be stopped when done")
	suite.True(suite.radio.IsClosed(), "radio MUST be released when done")
}

func (suite *ScannerTestSuite) TestFiltering() {
	tests := []struct {
		name      string
		allow     []string
		block     []string
		addresses []string
	}{
		{
			name:      "includes all peers with no filters",
			addresses: []string{"AA:BB:CC:DD:EE:01", "11:22:33:44:55:66", "AA:BB:CC:DD:EE:02"},
		},
		{
			name:      "excludes peer on block list",
			block:     []string{"aa:bb:cc:dd:ee:01"},
			addresses: []string{"11:22:33:44:55:66", "AA:BB:CC:DD:EE:02"},
		},
		{
			name:      "includes only peer on allow list",
			allow:     []string{"AA:BB:CC:DD:EE:02"},
			addresses: []string{"AA:BB:CC:DD:EE:02"},
		},
		{
			name:      "block list wins over allow list",
			allow:     []string{"AA:BB:CC:DD:EE:02"},
			block:     []string{"AA:BB:CC:DD:EE:02"},
			addresses: []string{},
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			suite.radio = testutils.NewFakeAdapter()
			opts := suite.options()
			opts.AllowList = tt.allow
			opts.BlockList = tt.block

			results, err := suite.scan(opts, suite.left, suite.other, suite.right)
			require.NoError(suite.T(), err)

			got := make([]string, 0, len(results))
			for _, r := range results {
				got = append(got, r.Address)
			}
			suite.Equal(tt.addresses, got)
		})
	}
}

func (suite *ScannerTestSuite) TestEventsReportNewAndUpdated() {
	s, err := scanner.NewScanner(suite.radio, suite.helper.Logger)
	suite.Require().NoError(err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Scan(context.Background(), suite.options(), nil)
	}()
	suite.Require().Eventually(suite.radio.IsScanning, time.Second, 5*time.Millisecond)
	suite.radio.Discover(suite.left)
	suite.radio.Discover(suite.left)
	<-done

	first := <-s.Events()
	second := <-s.Events()
	suite.Equal(scanner.EventNew, first.Type)
	suite.Equal(scanner.EventUpdated, second.Type)
	suite.Equal(2, second.Result.Seen)
}

func (suite *ScannerTestSuite) TestScanFailure() {
	s, err := scanner.NewScanner(suite.radio, suite.helper.Logger)
	suite.Require().NoError(err)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Scan(context.Background(), suite.options(), nil)
		errCh <- err
	}()
	suite.Require().Eventually(suite.radio.IsScanning, time.Second, 5*time.Millisecond)
	suite.radio.FailScan(errors.New("hci: command disallowed"))

	err = <-errCh
	suite.Require().Error(err)
	suite.Contains(err.Error(), "command disallowed")
}

func (suite *ScannerTestSuite) TestPoweredOffRadio() {
	suite.radio.InitialPower = device.PoweredOff
	s, err := scanner.NewScanner(suite.radio, suite.helper.Logger)
	suite.Require().NoError(err)

	opts := suite.options()
	opts.PowerTimeout = 50 * time.Millisecond
	_, err = s.Scan(context.Background(), opts, nil)

	suite.Require().Error(err)
	suite.ErrorIs(err, device.ErrBluetoothOff)
	suite.Zero(suite.radio.ScanStarts(), "MUST NOT scan while powered off")
}

func (suite *ScannerTestSuite) TestInvalidServiceUUID() {
	s, err := scanner.NewScanner(suite.radio, suite.helper.Logger)
	suite.Require().NoError(err)

	_, err = s.Scan(context.Background(), scanner.DefaultOptions("not-a-uuid"), nil)
	suite.Error(err)
}

// TestScannerTestSuite runs the test suite using testify/suite
func TestScannerTestSuite(t *testing.T) {
	suitelib.Run(t, new(ScannerTestSuite))
}
