package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type PlannerSuite struct {
	suite.Suite
}

func (s *PlannerSuite) TestBackoffDelay_Defaults() {
	p := NewPlanner(PlannerConfig{})
	s.Equal(5*time.Minute, p.BackoffDelay(0))
	s.Equal(5*time.Minute, p.BackoffDelay(1))
	s.Equal(15*time.Minute, p.BackoffDelay(2))
	s.Equal(30*time.Minute, p.BackoffDelay(3))
	s.Equal(60*time.Minute, p.BackoffDelay(4))
	s.Equal(60*time.Minute, p.BackoffDelay(100))
}

func (s *PlannerSuite) TestBackoffDelay_Overrides() {
	p := NewPlanner(PlannerConfig{Backoff1: time.Second, Backoff4: time.Hour * 2})
	s.Equal(time.Second, p.BackoffDelay(1))
	s.Equal(15*time.Minute, p.BackoffDelay(2))
	s.Equal(2*time.Hour, p.BackoffDelay(9))
}

func TestPlannerSuite(t *testing.T) {
	suite.Run(t, new(PlannerSuite))
}
