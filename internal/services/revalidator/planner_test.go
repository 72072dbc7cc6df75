package revalidator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type PlannerSuite struct {
	suite.Suite
}

func (s *PlannerSuite) TestBackoffLadder() {
	p := NewPlanner(DefaultPlannerConfig())
	s.Equal(5*time.Minute, p.BackoffDelay(1))
	s.Equal(15*time.Minute, p.BackoffDelay(2))
	s.Equal(30*time.Minute, p.BackoffDelay(3))
	s.Equal(60*time.Minute, p.BackoffDelay(4))
	s.Equal(60*time.Minute, p.BackoffDelay(100))
}

func (s *PlannerSuite) TestZeroConfigFallsBackToDefaults() {
	p := NewPlanner(PlannerConfig{Backoff2: 2 * time.Minute})
	s.Equal(5*time.Minute, p.BackoffDelay(1))
	s.Equal(2*time.Minute, p.BackoffDelay(2))
	s.Equal(30*time.Minute, p.BackoffDelay(3))
}

func TestPlannerSuite(t *testing.T) {
	suite.Run(t, new(PlannerSuite))
}
