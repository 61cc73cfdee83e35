// Package planner implements the cost/utility planner (C5, spec.md section
// 4.5): obstacle-inflated cost map, backward value iteration, path
// extraction/smoothing, laser-driven map updates and waypoint/velocity
// command generation. The value-iteration priority queue is grounded on the
// teacher's matrix-native A* (x/math/grid/fast_astar.go): same cell{row,col}
// + container/heap wrapper idiom, turned into an any-source Dijkstra
// relaxation instead of a single-target search.
package planner

import (
	"container/heap"
	"errors"
	"math"

	"github.com/chewxy/math32"

	"github.com/itohio/navcore/internal/motion"
	"github.com/itohio/navcore/pkg/gridmap"
	"github.com/itohio/navcore/pkg/mat"
)

var (
	// ErrGoalUnreachable is returned by Replan when the goal (and, if
	// enabled, its nearest free fallback) cannot be reached from the
	// robot's cell.
	ErrGoalUnreachable = errors.New("planner: goal unreachable")
)

const infUtility = float32(math.MaxFloat32)

// RobotShape selects the inflation footprint used by the cost map.
type RobotShape int

const (
	ShapeRectangle RobotShape = iota
	ShapeCircle
)

// Config parameterizes the planner (spec.md section 4.5, section 6).
type Config struct {
	Shape                  RobotShape
	Length, Width          float32
	ApproachDist           float32
	SideDist               float32
	GoalSize               float32
	WaypointTolerance      float32
	GoalThetaTolerance     float32
	AllowAnyOrientation    bool
	MapUpdateRadius        float32
	MapUpdateObstacles     bool
	MapUpdateFreespace     bool
	ReplanFrequency        float32
	SmoothPath             bool
	PlanToNearestFreePoint bool
	// ResetJumpThreshold is the pose-jump magnitude (meters) between
	// consecutive robot-pose updates that is treated as a localizer reset
	// (spec.md section 7).
	ResetJumpThreshold float32
}

// DefaultConfig mirrors typical CARMEN navigator tuning.
func DefaultConfig() Config {
	return Config{
		Shape:                  ShapeCircle,
		Length:                 0.5,
		Width:                  0.4,
		ApproachDist:           0.3,
		SideDist:               0.2,
		GoalSize:               0.3,
		WaypointTolerance:      0.2,
		GoalThetaTolerance:     0.3,
		MapUpdateRadius:        5,
		MapUpdateObstacles:     true,
		MapUpdateFreespace:     true,
		ReplanFrequency:        2,
		SmoothPath:             true,
		PlanToNearestFreePoint: true,
		ResetJumpThreshold:     1.0,
	}
}

// Waypoint is one world-frame planned point (spec.md section 3).
type Waypoint struct {
	X, Y, Theta float32
	TV, RV      float32
}

type cell struct{ x, y int }

var neighbors8 = []cell{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

func diagonalFactor(n cell) float32 {
	if n.x != 0 && n.y != 0 {
		return math32.Sqrt2
	}
	return 1
}

// Planner holds the planner's owned maps and current plan (spec.md section
// 5: "the planner owns two maps, a pristine copy and a mutable working
// copy, and is the only writer").
type Planner struct {
	Config Config

	Pristine *gridmap.OccupancyGrid // read-only backing truth
	Working  *gridmap.OccupancyGrid // dynamic, laser-mutated copy

	CostMap    mat.Matrix
	Utility    mat.Matrix
	bestAction []cell // flattened x*sizeY+y -> step offset toward the best neighbor, or {0,0} if none

	Goal           motion.Pose
	GoalSet        bool
	GoalAccessible bool
	RobotPose      motion.Pose
	havePrevPose   bool

	Path []Waypoint

	lastReplanTime float64
	haveReplanTime bool
}

// New allocates a planner over grid, cloning it into a pristine/working pair.
func New(cfg Config, grid *gridmap.OccupancyGrid) *Planner {
	working := &gridmap.OccupancyGrid{Config: grid.Config, Cells: grid.Cells.Clone()}
	pristine := &gridmap.OccupancyGrid{Config: grid.Config, Cells: grid.Cells.Clone()}
	return &Planner{
		Config:   cfg,
		Pristine: pristine,
		Working:  working,
	}
}

// BuildCostMap computes the obstacle-inflated cost surface (spec.md section
// 4.5): infinite at occupied/unknown cells, a linear inflation gradient
// within approachDist, a smaller addend within sideDist, 1 elsewhere.
func (p *Planner) BuildCostMap() {
	g := p.Working
	sx, sy := g.Config.SizeX, g.Config.SizeY
	p.CostMap = mat.New(sx, sy)
	res := g.Config.Resolution

	inflationRadius := p.inflationRadius()

	for x := 0; x < sx; x++ {
		for y := 0; y < sy; y++ {
			if !g.IsKnown(x, y) || g.IsOccupied(x, y, 0.5) {
				p.CostMap[x][y] = infUtility
				continue
			}
			d := nearestObstacleDistance(g, x, y, res, p.Config.ApproachDist+inflationRadius)
			switch {
			case d <= inflationRadius:
				p.CostMap[x][y] = infUtility
			case d <= inflationRadius+p.Config.ApproachDist:
				frac := (d - inflationRadius) / p.Config.ApproachDist
				p.CostMap[x][y] = 1 + (1-frac)*50
			case d <= inflationRadius+p.Config.ApproachDist+p.Config.SideDist:
				p.CostMap[x][y] = 1 + 5
			default:
				p.CostMap[x][y] = 1
			}
		}
	}
}

func (p *Planner) inflationRadius() float32 {
	if p.Config.Shape == ShapeCircle {
		return p.Config.Width / 2
	}
	return math32.Max(p.Config.Length, p.Config.Width) / 2
}

// nearestObstacleDistance does a bounded local search for the nearest
// occupied cell, in meters, capped at limit.
func nearestObstacleDistance(g *gridmap.OccupancyGrid, x, y int, resolution, limit float32) float32 {
	cellLimit := int(math32.Ceil(limit/resolution)) + 1
	best := limit + resolution
	for dx := -cellLimit; dx <= cellLimit; dx++ {
		for dy := -cellLimit; dy <= cellLimit; dy++ {
			nx, ny := x+dx, y+dy
			if !g.InBounds(nx, ny) || !g.IsOccupied(nx, ny, 0.5) {
				continue
			}
			d := math32.Sqrt(float32(dx*dx+dy*dy)) * resolution
			if d < best {
				best = d
			}
		}
	}
	return best
}

type pqItem struct {
	c    cell
	util float32
}

type priorityQueue []pqItem

func (q priorityQueue) Len() int            { return len(q) }
func (q priorityQueue) Less(i, j int) bool  { return q[i].util < q[j].util }
func (q priorityQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *priorityQueue) Push(x interface{}) { *q = append(*q, x.(pqItem)) }
func (q *priorityQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// ComputeUtility runs backward value iteration from goal (spec.md section
// 4.5): Dijkstra relaxation over the cost map, recording the best
// (minimal-utility) neighbor action at each cell.
func (p *Planner) ComputeUtility(goal cell) {
	sx, sy := p.Working.Config.SizeX, p.Working.Config.SizeY
	p.Utility = mat.New(sx, sy)
	p.Utility.FillC(infUtility)
	// zero-valued cell{0,0} means "no action, stop here" -- true at the goal
	// itself and at any cell Dijkstra never reaches.
	p.bestAction = make([]cell, sx*sy)

	if !p.Working.InBounds(goal.x, goal.y) {
		return
	}

	pq := make(priorityQueue, 0, 256)
	heap.Init(&pq)
	p.Utility[goal.x][goal.y] = 0
	heap.Push(&pq, pqItem{c: goal, util: 0})

	for pq.Len() > 0 {
		top := heap.Pop(&pq).(pqItem)
		if top.util > p.Utility[top.c.x][top.c.y] {
			continue
		}
		for _, n := range neighbors8 {
			nc := cell{top.c.x + n.x, top.c.y + n.y}
			if !p.Working.InBounds(nc.x, nc.y) {
				continue
			}
			stepCost := p.CostMap[nc.x][nc.y]
			if stepCost >= infUtility {
				continue
			}
			cand := top.util + diagonalFactor(n)*stepCost
			if cand < p.Utility[nc.x][nc.y] {
				p.Utility[nc.x][nc.y] = cand
				p.bestAction[nc.x*sy+nc.y] = cell{-n.x, -n.y} // points back toward `top`
				heap.Push(&pq, pqItem{c: nc, util: cand})
			}
		}
	}
}

func (p *Planner) utilityAt(c cell) float32 {
	if !p.Working.InBounds(c.x, c.y) {
		return infUtility
	}
	return p.Utility[c.x][c.y]
}

// Replan runs the full cost->utility->path pipeline for the current goal
// and robot pose (spec.md section 4.5). Sets GoalAccessible and, on the
// "plan to nearest" fallback, retargets utility at the nearest reachable
// cell to the requested goal.
func (p *Planner) Replan() error {
	if !p.GoalSet {
		p.Path = nil
		return nil
	}

	p.BuildCostMap()
	robotCell := p.worldToCell(p.RobotPose.X, p.RobotPose.Y)
	goalCell := p.worldToCell(p.Goal.X, p.Goal.Y)

	p.ComputeUtility(goalCell)
	goalFree := p.Working.InBounds(goalCell.x, goalCell.y) && p.CostMap[goalCell.x][goalCell.y] < infUtility
	if goalFree && p.utilityAt(robotCell) < infUtility {
		p.GoalAccessible = true
		p.extractPath(robotCell)
		return nil
	}

	p.GoalAccessible = false
	p.Path = nil

	if !p.Config.PlanToNearestFreePoint {
		return ErrGoalUnreachable
	}

	p.ComputeUtility(robotCell)
	nearest, found := p.nearestReachableTo(goalCell)
	if !found {
		return ErrGoalUnreachable
	}

	p.ComputeUtility(nearest)
	if p.utilityAt(robotCell) >= infUtility {
		return ErrGoalUnreachable
	}
	p.GoalAccessible = true
	p.extractPath(robotCell)
	return nil
}

func (p *Planner) nearestReachableTo(goal cell) (cell, bool) {
	sx, sy := p.Working.Config.SizeX, p.Working.Config.SizeY
	best := cell{-1, -1}
	bestDist := float32(math.MaxFloat32)
	found := false
	for x := 0; x < sx; x++ {
		for y := 0; y < sy; y++ {
			if p.Utility[x][y] >= infUtility {
				continue
			}
			d := math32.Sqrt(float32((x-goal.x)*(x-goal.x) + (y-goal.y)*(y-goal.y)))
			if d < bestDist {
				bestDist = d
				best = cell{x, y}
				found = true
			}
		}
	}
	return best, found
}

// extractPath follows best-action arrows from robotCell to the goal (spec.md
// section 4.5), then optionally smooths and dedups the head of the path.
func (p *Planner) extractPath(robotCell cell) {
	sy := p.Working.Config.SizeY
	cells := []cell{robotCell}
	visited := map[cell]bool{robotCell: true}
	cur := robotCell
	for {
		action := p.bestAction[cur.x*sy+cur.y]
		if action.x == 0 && action.y == 0 {
			break
		}
		next := cell{cur.x + action.x, cur.y + action.y}
		if !p.Working.InBounds(next.x, next.y) || visited[next] {
			break
		}
		cells = append(cells, next)
		visited[next] = true
		cur = next
		if p.Utility[cur.x][cur.y] == 0 {
			break
		}
	}

	if p.Config.SmoothPath {
		cells = p.smooth(cells)
	}

	path := make([]Waypoint, 0, len(cells))
	for _, c := range cells {
		wx, wy := p.Working.GridToWorld(c.x, c.y)
		path = append(path, Waypoint{X: wx, Y: wy})
	}

	for len(path) > 1 {
		d := dist2(path[1].X, path[1].Y, p.RobotPose.X, p.RobotPose.Y)
		if d >= p.Config.GoalSize*p.Config.GoalSize {
			break
		}
		path = path[1:]
	}

	p.Path = path
}

// smooth drops intermediate waypoints B when A->C is no more expensive than
// A->B->C and no riskier along the way (spec.md section 4.5).
func (p *Planner) smooth(cells []cell) []cell {
	if len(cells) < 3 {
		return cells
	}
	out := []cell{cells[0]}
	i := 0
	for i < len(cells)-1 {
		a := out[len(out)-1]
		j := i + 1
		for k := i + 2; k < len(cells); k++ {
			c := cells[k]
			if !p.segmentNoWorse(a, c, cells[i+1:k]) {
				break
			}
			j = k
		}
		out = append(out, cells[j])
		i = j
	}
	return out
}

func (p *Planner) segmentNoWorse(a, c cell, via []cell) bool {
	directCost, directMin := p.lineCost(a, c)
	var viaCost, viaMin float32
	prev := a
	viaMin = math32.MaxFloat32
	for _, v := range via {
		cst, mn := p.lineCost(prev, v)
		viaCost += cst
		if mn < viaMin {
			viaMin = mn
		}
		prev = v
	}
	cst, mn := p.lineCost(prev, c)
	viaCost += cst
	if mn < viaMin {
		viaMin = mn
	}
	return directCost <= viaCost && directMin >= viaMin
}

// lineCost samples the cost map along the straight cell-line a->c, returning
// (total distance-weighted cost, minimum cell cost along the line).
func (p *Planner) lineCost(a, c cell) (float32, float32) {
	pts := bresenham(a.x, a.y, c.x, c.y)
	var total float32
	min := float32(math.MaxFloat32)
	for _, pt := range pts {
		if !p.Working.InBounds(pt.x, pt.y) {
			continue
		}
		v := p.CostMap[pt.x][pt.y]
		total += v
		if v < min {
			min = v
		}
	}
	return total, min
}

func bresenham(x0, y0, x1, y1 int) []cell {
	var pts []cell
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	x, y := x0, y0
	for {
		pts = append(pts, cell{x, y})
		if x == x1 && y == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
	return pts
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func dist2(x1, y1, x2, y2 float32) float32 {
	dx, dy := x1-x2, y1-y2
	return dx*dx + dy*dy
}

func (p *Planner) worldToCell(wx, wy float32) cell {
	fx := (wx - p.Working.Config.OriginX) / p.Working.Config.Resolution
	fy := (wy - p.Working.Config.OriginY) / p.Working.Config.Resolution
	return cell{int(math32.Floor(fx)), int(math32.Floor(fy))}
}

// SetGoal sets the planning target.
func (p *Planner) SetGoal(goal motion.Pose) {
	p.Goal = goal
	p.GoalSet = true
}

// LaserScan is the minimal beam data the planner's map update needs.
type LaserScan struct {
	Pose   motion.Pose
	Angles []float32
	Ranges []float32
	MaxUsableRange float32
}

// UpdateMapFromLaser applies a robot-frame laser scan to the working map
// (spec.md section 4.5): restores the pristine backing first, then marks
// obstacle/freespace cells independently per config, and rebuilds the
// derived cost/utility/path.
func (p *Planner) UpdateMapFromLaser(scan LaserScan) {
	p.restoreDynamicCells(scan.Pose)

	for i, r := range scan.Ranges {
		if r > scan.MaxUsableRange {
			continue
		}
		a := scan.Angles[i] + scan.Pose.Theta
		ex := scan.Pose.X + r*math32.Cos(a)
		ey := scan.Pose.Y + r*math32.Sin(a)
		if dist2(ex, ey, scan.Pose.X, scan.Pose.Y) > p.Config.MapUpdateRadius*p.Config.MapUpdateRadius {
			continue
		}
		robotCell := p.worldToCell(scan.Pose.X, scan.Pose.Y)
		endCell := p.worldToCell(ex, ey)

		line := bresenham(robotCell.x, robotCell.y, endCell.x, endCell.y)
		for idx, c := range line {
			if !p.Working.InBounds(c.x, c.y) {
				continue
			}
			last := idx == len(line)-1
			if last {
				if p.Config.MapUpdateObstacles {
					p.Working.Cells[c.x][c.y] = 1
				}
			} else if p.Config.MapUpdateFreespace {
				p.Working.Cells[c.x][c.y] = 0
			}
		}
	}

	p.Replan()
}

// restoreDynamicCells resets every cell within MapUpdateRadius of pose back
// to its pristine value, clearing last cycle's dynamic marks.
func (p *Planner) restoreDynamicCells(pose motion.Pose) {
	c := p.worldToCell(pose.X, pose.Y)
	res := p.Working.Config.Resolution
	radiusCells := int(math32.Ceil(p.Config.MapUpdateRadius/res)) + 1
	for dx := -radiusCells; dx <= radiusCells; dx++ {
		for dy := -radiusCells; dy <= radiusCells; dy++ {
			x, y := c.x+dx, c.y+dy
			if !p.Working.InBounds(x, y) {
				continue
			}
			p.Working.Cells[x][y] = p.Pristine.Cells[x][y]
		}
	}
}

// ResetMap discards all dynamic marks, restoring the working map to the
// pristine backing in full (spec.md section 7, localizer-reset heuristic).
func (p *Planner) ResetMap() {
	p.Working.Cells = p.Pristine.Cells.Clone()
}

// UpdateRobotPose records a new robot pose, detecting an implausibly large
// jump (suggestive of a localizer reset) and resetting the dynamic map
// before the next replan (spec.md section 7).
func (p *Planner) UpdateRobotPose(pose motion.Pose) {
	if p.havePrevPose {
		d := math32.Sqrt(dist2(pose.X, pose.Y, p.RobotPose.X, p.RobotPose.Y))
		if d > p.Config.ResetJumpThreshold {
			p.ResetMap()
		}
	}
	p.RobotPose = pose
	p.havePrevPose = true
}

// ShouldReplan throttles replanning to 1/replanFrequency seconds, coalescing
// faster-arriving changes (spec.md section 4.5).
func (p *Planner) ShouldReplan(now float64) bool {
	if p.Config.ReplanFrequency <= 0 {
		return true
	}
	period := 1.0 / float64(p.Config.ReplanFrequency)
	if !p.haveReplanTime || now-p.lastReplanTime >= period {
		p.lastReplanTime = now
		p.haveReplanTime = true
		return true
	}
	return false
}

// WaypointStatus is the tri-state result of Advance (spec.md section 4.5).
type WaypointStatus int

const (
	StatusFollowing WaypointStatus = 0
	StatusGoalReached WaypointStatus = 1
	StatusNoPlan WaypointStatus = -1
)

// Advance walks the path index forward past waypoints already within
// waypointTolerance of pose, and reports goal-reached / no-plan / following
// status (spec.md section 4.5).
func (p *Planner) Advance(pose motion.Pose, pathIndex int) (WaypointStatus, int, Waypoint) {
	if len(p.Path) <= 1 {
		return StatusNoPlan, pathIndex, Waypoint{}
	}

	idx := pathIndex
	if idx < 0 {
		idx = 0
	}
	for idx < len(p.Path)-1 {
		wp := p.Path[idx]
		d := math32.Sqrt(dist2(pose.X, pose.Y, wp.X, wp.Y))
		if d >= p.Config.WaypointTolerance {
			break
		}
		idx++
	}

	last := p.Path[len(p.Path)-1]
	d := math32.Sqrt(dist2(pose.X, pose.Y, last.X, last.Y))
	if idx == len(p.Path)-1 && d < p.Config.GoalSize {
		thetaOK := p.Config.AllowAnyOrientation
		if !thetaOK {
			thetaOK = angleDiff(pose.Theta, p.Goal.Theta) < p.Config.GoalThetaTolerance
		}
		if thetaOK {
			return StatusGoalReached, idx, last
		}
	}

	return StatusFollowing, idx, p.Path[idx]
}

func angleDiff(a, b float32) float32 {
	d := a - b
	for d > math32.Pi {
		d -= 2 * math32.Pi
	}
	for d < -math32.Pi {
		d += 2 * math32.Pi
	}
	if d < 0 {
		d = -d
	}
	return d
}
