package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/scriptproxy/registry"
	"github.com/srg/scriptproxy/session"
)

// CLISuite gives every scriptproxyctl test a fresh registry/session pair,
// mirroring the per-test fixture role of the teacher's CommandTestSuite.
type CLISuite struct {
	suite.Suite
}

func (s *CLISuite) SetupTest() {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	state.reg = registry.New(logger)
	state.sess = session.New()
}

// CaptureStdout executes fn while capturing stdout, returning what it wrote.
func (s *CLISuite) CaptureStdout(fn func()) string {
	old := os.Stdout
	r, w, err := os.Pipe()
	s.Require().NoError(err)
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()

	w.Close()
	out, _ := io.ReadAll(r)
	return string(out)
}

func TestCLISuite(t *testing.T) {
	suite.Run(t, new(CLISuite))
}

func (s *CLISuite) TestSplitScriptLineHandlesQuotedScriptText() {
	tokens, err := splitScriptLine(`evaluate proxy0 "sum 1 2"`)
	s.Require().NoError(err)
	s.Equal([]string{"evaluate", "proxy0", "sum 1 2"}, tokens)
}

func (s *CLISuite) TestSplitScriptLineRejectsUnterminatedQuote() {
	_, err := splitScriptLine(`evaluate proxy0 "sum 1 2`)
	s.Error(err)
}

func (s *CLISuite) TestRunScriptLineRejectsUnknownVerb() {
	err := runScriptLine("frobnicate foo")
	s.Error(err)
}

func (s *CLISuite) TestRunScriptLineConfiguresAndReportsPool() {
	out := s.CaptureStdout(func() {
		err := runScriptLine("configure calc --max 2")
		s.Require().NoError(err)
	})
	s.Contains(out, `pool "calc" configured`)
	s.Contains(out, "max=2")
}

func (s *CLISuite) TestRunScriptLineGetFailsAgainstUnconfiguredPool() {
	err := runScriptLine("get does-not-exist")
	s.Error(err)
}

func (s *CLISuite) TestRunRejectsMissingScriptFile() {
	cmd := runCmd
	err := runRun(cmd, []string{filepath.Join(s.T().TempDir(), "missing.scriptproxy")})
	s.Error(err)
}

func (s *CLISuite) TestRunExecutesEachLineAgainstSharedState() {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "script.txt")
	script := "# comment\nconfigure calc --max 1\nhandles\n"
	require.NoError(s.T(), os.WriteFile(path, []byte(script), 0o644))

	var buf bytes.Buffer
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = old }()

	err := runRun(runCmd, []string{path})
	w.Close()
	os.Stdout = old
	_, _ = buf.ReadFrom(r)

	assert.NoError(s.T(), err)
	assert.Contains(s.T(), buf.String(), "configured")
}
