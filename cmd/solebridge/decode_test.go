package main

import (
	"context"
	"testing"

	"github.com/srg/solebridge/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type DecodeCommandSuite struct {
	CommandTestSuite
}

func (s *DecodeCommandSuite) TestBinaryFrame() {
	// GOAL: Verify a well-formed binary frame decodes to eight little-endian values
	//
	// TEST SCENARIO: 16 hex-encoded bytes with separators → values listed, frame valid

	out, _, err := s.ExecuteCommand(context.Background(), "decode", "0100 0200 0300 0400:0500:0600 0700 ff00")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, `format:  binary
bytes:   16
values:  [1 2 3 4 5 6 7 255]
valid:   yes (8 values)
`)
}

func (s *DecodeCommandSuite) TestShortFrameIsInvalid() {
	// GOAL: Verify a frame with the wrong number of values is reported as dropped, not as an error
	//
	// TEST SCENARIO: 15 bytes → 7 values, odd byte ignored → invalid

	out, _, err := s.ExecuteCommand(context.Background(), "decode", "010002000300040005000600070008")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, `format:  binary
bytes:   15
valid:   no (expected 8 values, got 7)
`)
}

func (s *DecodeCommandSuite) TestASCIIFrame() {
	out, _, err := s.ExecuteCommand(context.Background(), "decode", "--wire-format", "ascii",
		"1_g:10 2_g:20 junk 3_g:30 4_g:40 5_g:50 6_g:60")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, `format:  ascii
bytes:   46
values:  [10 20 30 40 50 60]
valid:   yes (6 values)
`)
}

func (s *DecodeCommandSuite) TestCustomFrameSize() {
	out, _, err := s.ExecuteCommand(context.Background(), "decode", "--frame-values", "2", "0a001400")
	s.Require().NoError(err)
	s.Contains(out, "values:  [10 20]")
}

func (s *DecodeCommandSuite) TestRejectsBadInput() {
	_, _, err := s.ExecuteCommand(context.Background(), "decode", "zz")
	s.ErrorContains(err, "invalid hex payload")

	_, _, err = s.ExecuteCommand(context.Background(), "decode", "--wire-format", "morse", "00")
	s.ErrorContains(err, "unknown wire format")
}

func TestDecodeCommandSuite(t *testing.T) {
	suite.Run(t, new(DecodeCommandSuite))
}
