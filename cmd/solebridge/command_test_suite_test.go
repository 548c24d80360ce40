package main

import (
	"bytes"
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/solebridge/internal/device"
	"github.com/srg/solebridge/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite runs commands against an in-memory radio.
// All cmd/solebridge test suites should embed it.
type CommandTestSuite struct {
	suite.Suite

	Radio *testutils.FakeAdapter

	origRadio func(*logrus.Logger) device.Adapter
}

func (s *CommandTestSuite) SetupTest() {
	s.Radio = testutils.NewFakeAdapter()
	s.origRadio = newRadio
	newRadio = func(*logrus.Logger) device.Adapter { return s.Radio }
}

func (s *CommandTestSuite) TearDownTest() {
	newRadio = s.origRadio
}

// ExecuteCommand runs rootCmd with args and returns stdout and stderr.
// Flag values left over from previous executions are reset first.
func (s *CommandTestSuite) ExecuteCommand(ctx context.Context, args ...string) (string, string, error) {
	resetFlags(rootCmd)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
