package planner

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/navcore/internal/motion"
	"github.com/itohio/navcore/pkg/gridmap"
)

func emptyGrid(t *testing.T, size int) *gridmap.OccupancyGrid {
	t.Helper()
	g, err := gridmap.New(gridmap.Config{Resolution: 1, SizeX: size, SizeY: size})
	require.NoError(t, err)
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			g.Cells[x][y] = 0
		}
	}
	return g
}

// Scenario 4 (spec.md section 8): goal on a wall cell, planToNearestFreePoint
// on, robot 3m away; expect a non-empty path whose terminus is within
// resolution*sqrt(2) of a neighbor of the requested goal.
func TestNearestFreeFallback(t *testing.T) {
	g := emptyGrid(t, 10)
	g.Cells[5][5] = 1 // wall at the goal cell

	cfg := DefaultConfig()
	cfg.PlanToNearestFreePoint = true
	p := New(cfg, g)
	p.RobotPose = motion.Pose{X: 2, Y: 2}
	p.SetGoal(motion.Pose{X: 5.5, Y: 5.5})

	err := p.Replan()
	require.NoError(t, err)
	require.True(t, p.GoalAccessible)
	require.NotEmpty(t, p.Path)

	last := p.Path[len(p.Path)-1]
	bestDist := float32(1e9)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := 5+dx, 5+dy
			if !g.InBounds(nx, ny) || g.IsOccupied(nx, ny, 0.5) {
				continue
			}
			wx, wy := g.GridToWorld(nx, ny)
			d := math32.Sqrt((last.X-wx)*(last.X-wx) + (last.Y-wy)*(last.Y-wy))
			if d < bestDist {
				bestDist = d
			}
		}
	}
	assert.LessOrEqual(t, bestDist, g.Config.Resolution*math32.Sqrt2+1e-3)
}

func TestGoalUnreachableWithoutFallback(t *testing.T) {
	g := emptyGrid(t, 10)
	g.Cells[5][5] = 1

	cfg := DefaultConfig()
	cfg.PlanToNearestFreePoint = false
	p := New(cfg, g)
	p.RobotPose = motion.Pose{X: 2, Y: 2}
	p.SetGoal(motion.Pose{X: 5.5, Y: 5.5})

	err := p.Replan()
	assert.ErrorIs(t, err, ErrGoalUnreachable)
	assert.False(t, p.GoalAccessible)
	assert.Empty(t, p.Path)
}

func TestReplanReachableGoalProducesPathFromRobotToGoal(t *testing.T) {
	g := emptyGrid(t, 10)
	cfg := DefaultConfig()
	p := New(cfg, g)
	p.RobotPose = motion.Pose{X: 1, Y: 1}
	p.SetGoal(motion.Pose{X: 7, Y: 7})

	require.NoError(t, p.Replan())
	require.True(t, p.GoalAccessible)
	require.NotEmpty(t, p.Path)

	first := p.Path[0]
	assert.InDelta(t, p.RobotPose.X, first.X, g.Config.Resolution)
	assert.InDelta(t, p.RobotPose.Y, first.Y, g.Config.Resolution)

	last := p.Path[len(p.Path)-1]
	assert.InDelta(t, 7, last.X, g.Config.Resolution)
	assert.InDelta(t, 7, last.Y, g.Config.Resolution)
}

func TestAdvanceNoPlanWhenPathEmpty(t *testing.T) {
	p := &Planner{}
	status, _, _ := p.Advance(motion.Pose{}, 0)
	assert.Equal(t, StatusNoPlan, status)
}

// goalReached <=> distance(robot, goal) < goalSize AND (any orientation OR
// |dtheta| < goalThetaTolerance) (spec.md section 8).
func TestAdvanceGoalReachedRespectsOrientation(t *testing.T) {
	p := &Planner{Config: DefaultConfig()}
	p.Config.GoalSize = 0.5
	p.Config.GoalThetaTolerance = 0.2
	p.Config.AllowAnyOrientation = false
	p.Path = []Waypoint{{X: 0, Y: 0}, {X: 1, Y: 0}}
	p.Goal = motion.Pose{X: 1, Y: 0, Theta: 0}

	status, _, _ := p.Advance(motion.Pose{X: 0.9, Y: 0, Theta: 1.0}, 1)
	assert.Equal(t, StatusFollowing, status)

	status, _, _ = p.Advance(motion.Pose{X: 0.9, Y: 0, Theta: 0.05}, 1)
	assert.Equal(t, StatusGoalReached, status)
}

func TestUpdateRobotPoseLargeJumpResetsMap(t *testing.T) {
	g := emptyGrid(t, 5)
	g.Cells[2][2] = 1
	cfg := DefaultConfig()
	cfg.ResetJumpThreshold = 0.5
	p := New(cfg, g)
	p.UpdateRobotPose(motion.Pose{X: 0, Y: 0})
	p.Working.Cells[2][2] = 0 // simulate a dynamic clear

	p.UpdateRobotPose(motion.Pose{X: 4, Y: 4}) // jump > threshold

	assert.Equal(t, float32(1), p.Working.Cells[2][2])
}

func TestShouldReplanThrottles(t *testing.T) {
	p := &Planner{Config: DefaultConfig()}
	p.Config.ReplanFrequency = 2 // period 0.5s
	assert.True(t, p.ShouldReplan(0))
	assert.False(t, p.ShouldReplan(0.1))
	assert.True(t, p.ShouldReplan(0.6))
}
