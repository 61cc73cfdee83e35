// Package mcl implements the Monte-Carlo localization particle filter (C3,
// spec.md section 4.3): initialization, odometry/laser incorporation,
// low-variance resampling, gradient-descent scan-match polishing and
// summary statistics. Grounded on the CARMEN localize-core filter
// (original_source/.../localize_core.c) for the per-step algorithms, and on
// the teacher's container/heap priority-queue idiom
// (pkg/core/math/graph/astar.go) for the bounded global-init queue.
package mcl

import (
	"container/heap"
	"math/rand"

	"github.com/chewxy/math32"

	"github.com/itohio/navcore/internal/likelihood"
	"github.com/itohio/navcore/internal/motion"
	"github.com/itohio/navcore/internal/navmsg"
	"github.com/itohio/navcore/pkg/gridmap"
	"github.com/itohio/navcore/pkg/logger"
	"github.com/itohio/navcore/pkg/vec"
)

// Particle is one weighted pose sample. Weight is held in log form between
// resamples and only exponentiated at resample/summary time (spec.md
// section 3).
type Particle struct {
	X, Y, Theta float32
	Weight      float32
}

// Scan is the subset of a RobotLaser reading the filter needs: beam ranges
// plus the geometry to derive each beam's angle.
type Scan struct {
	StartAngle        float32
	AngularResolution float32
	MaxRange          float32 // sensor's own maximum range
	Range             []float32
}

func (s Scan) angle(i int) float32 {
	return s.StartAngle + float32(i)*s.AngularResolution
}

// GaussianMode is one (mean, std) seed for Gaussian initialization.
type GaussianMode struct {
	Mean motion.Pose
	Std  motion.Pose
}

// State is the filter's localization state machine (spec.md section 4.3.7).
type State int

const (
	StateUninitialized State = iota
	StateTracking
	StateGlobal
)

// Summary is the weighted pose estimate published after each update cycle
// (spec.md section 4.3.6).
type Summary struct {
	Mean      motion.Pose
	Std       motion.Pose
	XYCov     float32
	Converged bool
	MeanScan  []Endpoint
}

// Endpoint is one world-frame mean-scan beam endpoint.
type Endpoint struct {
	X, Y float32
	Kept bool
}

// Filter is the particle-filter belief plus the bookkeeping CARMEN calls
// carmen_localize_filter_t (spec.md section 3, "Filter State").
type Filter struct {
	Params       navmsg.Parameters
	MotionParams motion.Params
	Rng          *rand.Rand

	Particles []Particle

	Grid *gridmap.OccupancyGrid
	Map  *likelihood.Map

	State             State
	LastOdometry      motion.Pose
	haveLastOdometry  bool
	DistanceTravelled float32
	GlobalMode        bool
	LaserSkip         int

	// scratch, reused across calls to avoid per-cycle allocation.
	tempWeights [][]float32
	beamMask    []bool
}

// New allocates a Filter with capacity for params.NumParticles particles.
func New(params navmsg.Parameters, motionParams motion.Params, rng *rand.Rand, grid *gridmap.OccupancyGrid, lmap *likelihood.Map) *Filter {
	return &Filter{
		Params:       params,
		MotionParams: motionParams,
		Rng:          rng,
		Particles:    make([]Particle, 0, params.NumParticles),
		Grid:         grid,
		Map:          lmap,
		LaserSkip:    params.LaserSkip,
	}
}

// InitGaussian seeds the particle set by partitioning numParticles evenly
// across modes, drawing each particle i.i.d. from its mode (spec.md section
// 4.3.1).
func (f *Filter) InitGaussian(modes []GaussianMode) {
	n := f.Params.NumParticles
	f.Particles = f.Particles[:0]
	if len(modes) == 0 || n == 0 {
		f.finishInit()
		return
	}
	per := n / len(modes)
	remainder := n - per*len(modes)
	for mi, mode := range modes {
		count := per
		if mi == len(modes)-1 {
			count += remainder
		}
		for i := 0; i < count; i++ {
			f.Particles = append(f.Particles, Particle{
				X:     mode.Mean.X + gaussianSample(f.Rng, mode.Std.X),
				Y:     mode.Mean.Y + gaussianSample(f.Rng, mode.Std.Y),
				Theta: vec.NormalizeAngle(mode.Mean.Theta + gaussianSample(f.Rng, mode.Std.Theta)),
			})
		}
	}
	f.finishInit()
}

// InitManual copies an explicit particle array into the filter, resizing
// capacity if needed (spec.md section 4.3.1).
func (f *Filter) InitManual(particles []Particle) {
	f.Particles = append(f.Particles[:0], particles...)
	f.finishInit()
}

func (f *Filter) finishInit() {
	f.State = StateTracking
	f.GlobalMode = false
	f.haveLastOdometry = false
	f.DistanceTravelled = 0
}

type candidate struct {
	particle Particle
	score    float32
}

// candidateQueue is a min-heap on score: the smallest-scoring surviving
// candidate sits at the root so a new candidate can be compared against it
// in O(1) and the set kept bounded at numParticles (spec.md section 4.3.1).
type candidateQueue []candidate

func (q candidateQueue) Len() int            { return len(q) }
func (q candidateQueue) Less(i, j int) bool  { return q[i].score < q[j].score }
func (q candidateQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *candidateQueue) Push(x interface{}) { *q = append(*q, x.(candidate)) }
func (q *candidateQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// InitUniform performs the global (uniform) initialization procedure
// (spec.md section 4.3.1): sample globalTestSamples random free cells and
// headings, score each against the gprob field over a laserSkip-masked scan,
// and keep the best numParticles in a bounded priority queue.
func (f *Filter) InitUniform(scan Scan) {
	f.ensureLaserSkip(scan)
	n := f.Params.NumParticles
	q := make(candidateQueue, 0, n)
	heap.Init(&q)

	sx, sy := f.Grid.Config.SizeX, f.Grid.Config.SizeY
	for trial := 0; trial < f.Params.GlobalTestSamples; trial++ {
		var gx, gy int
		for attempts := 0; attempts < 1000; attempts++ {
			gx = f.Rng.Intn(sx)
			gy = f.Rng.Intn(sy)
			if f.Grid.IsKnown(gx, gy) && !f.Grid.IsOccupied(gx, gy, f.Params.OccupiedProb) {
				break
			}
		}
		wx, wy := f.Grid.GridToWorld(gx, gy)
		theta := f.Rng.Float32()*2*math32.Pi - math32.Pi

		p := Particle{X: wx, Y: wy, Theta: theta}
		score := f.scoreAgainstGProb(p, scan)

		cand := candidate{particle: p, score: score}
		if q.Len() < n {
			heap.Push(&q, cand)
		} else if q.Len() > 0 && score > q[0].score {
			heap.Pop(&q)
			heap.Push(&q, cand)
		}
	}

	f.Particles = f.Particles[:0]
	for _, c := range q {
		f.Particles = append(f.Particles, c.particle)
	}
	f.finishInit()

	if f.Params.DoScanmatching {
		for i := range f.Particles {
			p := f.Particles[i]
			pose := motion.Pose{X: p.X, Y: p.Y, Theta: p.Theta}
			corrected := f.GradientDescent(pose, scan)
			f.Particles[i].X, f.Particles[i].Y, f.Particles[i].Theta = corrected.X, corrected.Y, corrected.Theta
		}
	}
}

// scoreAgainstGProb sums gprob over every laserSkip-th valid beam projected
// from the particle's pose, for the global-init candidate scoring step.
func (f *Filter) scoreAgainstGProb(p Particle, scan Scan) float32 {
	resolution := f.Map.Config.Resolution
	var sum float32
	skip := f.LaserSkip
	if skip < 1 {
		skip = 1
	}
	for i := 0; i < len(scan.Range); i += skip {
		r := scan.Range[i]
		if r >= scan.MaxRange || r >= f.Params.MaxRange {
			continue
		}
		a := scan.angle(i) + p.Theta
		ex := p.X + r*math32.Cos(a)
		ey := p.Y + r*math32.Sin(a)
		cx, cy := worldToCell(ex, ey, f.Map, resolution)
		sum += f.Map.LookupGProb(cx, cy)
	}
	return sum
}

func worldToCell(wx, wy float32, lmap *likelihood.Map, resolution float32) (int, int) {
	fx := (wx - lmap.Config.OriginX) / resolution
	fy := (wy - lmap.Config.OriginY) / resolution
	return int(math32.Floor(fx)), int(math32.Floor(fy))
}

func (f *Filter) ensureLaserSkip(scan Scan) {
	if f.LaserSkip > 0 {
		return
	}
	integrateAngle := f.Params.IntegrateAngleDeg * math32.Pi / 180
	if scan.AngularResolution <= 0 {
		f.LaserSkip = 1
		return
	}
	skip := int(math32.Floor(integrateAngle / scan.AngularResolution))
	if skip < 1 {
		skip = 1
	}
	f.LaserSkip = skip
}

// IncorporateOdometry advances every particle by a sampled motion-model step
// (spec.md section 4.3.2). The first odometry packet after init only seeds
// LastOdometry.
func (f *Filter) IncorporateOdometry(cur motion.Pose) {
	if !f.haveLastOdometry {
		f.LastOdometry = cur
		f.haveLastOdometry = true
		return
	}

	delta := motion.ComputeDelta(f.LastOdometry, cur)
	f.DistanceTravelled += delta.Translation

	for i := range f.Particles {
		pose := motion.Pose{X: f.Particles[i].X, Y: f.Particles[i].Y, Theta: f.Particles[i].Theta}
		var next motion.Pose
		if f.MotionParams.Legacy {
			dr1, dt, dr2 := motion.LegacyDecompose(f.LastOdometry, cur)
			next = motion.LegacySample(pose, dr1, dt, dr2, delta.Backwards, f.MotionParams, f.Rng)
		} else {
			down, cross, turn := motion.Sample(delta, f.MotionParams, f.Rng)
			next = motion.Apply(pose, down, cross, turn, delta.Backwards)
		}
		f.Particles[i].X, f.Particles[i].Y, f.Particles[i].Theta = next.X, next.Y, next.Theta
	}

	f.LastOdometry = cur
}

// IncorporateLaser runs the laser weighting step (spec.md section 4.3.3) and
// returns the beam mask actually applied this cycle (after outlier
// rejection), for publication on the Sensor output message.
func (f *Filter) IncorporateLaser(scan Scan) []bool {
	if len(f.Particles) == 0 {
		return nil
	}
	f.ensureLaserSkip(scan)

	n := len(scan.Range)
	mask := f.buildMask(scan)
	f.GlobalMode = f.testGlobalMode()
	if f.GlobalMode {
		f.State = StateGlobal
	} else if f.State == StateGlobal {
		f.State = StateTracking
	}

	if cap(f.tempWeights) < len(f.Particles) {
		f.tempWeights = make([][]float32, len(f.Particles))
	}
	f.tempWeights = f.tempWeights[:len(f.Particles)]
	for i := range f.tempWeights {
		if cap(f.tempWeights[i]) < n {
			f.tempWeights[i] = make([]float32, n)
		}
		f.tempWeights[i] = f.tempWeights[i][:n]
	}

	resolution := f.Map.Config.Resolution
	for pi, p := range f.Particles {
		ownCx, ownCy := worldToCell(p.X, p.Y, f.Map, resolution)
		ownBlocked := f.Params.ConstrainToMap && (!f.Grid.InBounds(ownCx, ownCy) || f.Grid.IsOccupied(ownCx, ownCy, f.Params.OccupiedProb))

		for bi := 0; bi < n; bi++ {
			if !mask[bi] {
				continue
			}
			if ownBlocked {
				f.tempWeights[pi][bi] = f.fieldMinLog()
				continue
			}
			r := scan.Range[bi]
			a := scan.angle(bi) + p.Theta
			ex := p.X + r*math32.Cos(a)
			ey := p.Y + r*math32.Sin(a)
			cx, cy := worldToCell(ex, ey, f.Map, resolution)
			if !f.Grid.InBounds(cx, cy) || !f.Grid.IsKnown(cx, cy) {
				f.tempWeights[pi][bi] = f.fieldMinLog()
				continue
			}
			if f.GlobalMode {
				f.tempWeights[pi][bi] = f.Map.LookupGProb(cx, cy)
			} else {
				f.tempWeights[pi][bi] = f.Map.LookupProb(cx, cy)
			}
		}
	}

	if !f.GlobalMode {
		minWallLog := math32.Log(f.Params.MinWallProb)
		for bi := 0; bi < n; bi++ {
			if !mask[bi] {
				continue
			}
			var bad int
			for pi := range f.Particles {
				if f.tempWeights[pi][bi] < minWallLog {
					bad++
				}
			}
			if float32(bad)/float32(len(f.Particles)) > f.Params.OutlierFraction {
				mask[bi] = false
			}
		}
	}

	for pi := range f.Particles {
		var sum float32
		for bi := 0; bi < n; bi++ {
			if mask[bi] {
				sum += f.tempWeights[pi][bi]
			}
		}
		f.Particles[pi].Weight += sum
	}

	f.beamMask = mask

	if f.DistanceTravelled > f.Params.UpdateDistance {
		f.Resample()
		f.DistanceTravelled = 0
	}

	logger.Log.Debug().Str("component", "mcl").Bool("global", f.GlobalMode).Msg("incorporated laser")

	return mask
}

func (f *Filter) fieldMinLog() float32 {
	if f.GlobalMode {
		return math32.Log(f.Params.GlobalBeamMinLikelihood)
	}
	return math32.Log(f.Params.TrackingBeamMinLikelihood)
}

func (f *Filter) buildMask(scan Scan) []bool {
	mask := make([]bool, len(scan.Range))
	skip := f.LaserSkip
	if skip < 1 {
		skip = 1
	}
	maxRange := scan.MaxRange
	if f.Params.MaxRange < maxRange {
		maxRange = f.Params.MaxRange
	}
	for i := 0; i < len(scan.Range); i += skip {
		if scan.Range[i] < maxRange {
			mask[i] = true
		}
	}
	return mask
}

// testGlobalMode implements the mean-spread test (spec.md section 4.3.3):
// global mode is declared when any particle is farther than
// globalDistanceThreshold from the mean particle position in either axis.
func (f *Filter) testGlobalMode() bool {
	if len(f.Particles) == 0 {
		return false
	}
	var mx, my float32
	for _, p := range f.Particles {
		mx += p.X
		my += p.Y
	}
	mx /= float32(len(f.Particles))
	my /= float32(len(f.Particles))

	threshold := f.Params.GlobalDistanceThreshold
	for _, p := range f.Particles {
		if absf(p.X-mx) > threshold || absf(p.Y-my) > threshold {
			return true
		}
	}
	return false
}

// Resample performs low-variance (stochastic universal) resampling (spec.md
// section 4.3.4).
func (f *Filter) Resample() {
	n := len(f.Particles)
	if n == 0 {
		return
	}

	maxLog := f.Particles[0].Weight
	for _, p := range f.Particles[1:] {
		if p.Weight > maxLog {
			maxLog = p.Weight
		}
	}

	linear := make([]float32, n)
	var sum float32
	for i, p := range f.Particles {
		linear[i] = math32.Exp(p.Weight - maxLog)
		sum += linear[i]
	}
	if sum <= 0 {
		for i := range f.Particles {
			f.Particles[i].Weight = 0
		}
		return
	}

	step := sum / float32(n)
	u := f.Rng.Float32() * sum

	survivors := make([]Particle, n)
	var cum float32
	idx := 0
	cum = linear[0]
	for i := 0; i < n; i++ {
		for cum < u && idx < n-1 {
			idx++
			cum += linear[idx]
		}
		survivors[i] = f.Particles[idx]
		survivors[i].Weight = 0
		u += step
		if u > sum {
			u -= sum
			idx = 0
			cum = linear[0]
		}
	}

	f.Particles = survivors
}

// GradientDescent climbs the distance-transform toward a local minimum from
// seed, using the precomputed offset tables instead of finite differences
// (spec.md section 4.3.5).
func (f *Filter) GradientDescent(seed motion.Pose, scan Scan) motion.Pose {
	const maxIterations = 20
	const kTranslation = 1e-4
	const kRotation = 1e-5

	angularResDeg := scan.AngularResolution * 180 / math32.Pi
	skip := f.LaserSkip
	if skip < 1 {
		skip = 1
	}
	resolution := f.Map.Config.Resolution

	pose := seed
	for iter := 0; iter < maxIterations; iter++ {
		var gx, gy, gtheta float32
		for i := 0; i < len(scan.Range); i += skip {
			r := scan.Range[i]
			if r >= scan.MaxRange {
				continue
			}
			a := scan.angle(i) + pose.Theta
			ex := pose.X + r*math32.Cos(a)
			ey := pose.Y + r*math32.Sin(a)
			cx, cy := worldToCell(ex, ey, f.Map, resolution)
			if !f.Grid.InBounds(cx, cy) {
				continue
			}
			xo := float32(f.Map.XOffset[cx][cy])
			yo := float32(f.Map.YOffset[cx][cy])
			rx := r * math32.Cos(a-pose.Theta)
			ry := r * math32.Sin(a-pose.Theta)
			gx += xo
			gy += yo
			gtheta += rx*yo - ry*xo
		}

		scaleT := kTranslation * angularResDeg
		scaleR := kRotation * angularResDeg
		pose.X += gx * scaleT
		pose.Y += gy * scaleT
		pose.Theta = vec.NormalizeAngle(pose.Theta + gtheta*scaleR)

		if absf(gx) <= 0.05 && absf(gy) <= 0.05 && absf(gtheta) <= 0.25/math32.Pi {
			break
		}
	}
	return pose
}

// Summarize computes the weighted mean pose, componentwise stds, xy-
// covariance and mean-scan endpoints (spec.md section 4.3.6).
func (f *Filter) Summarize(scan Scan) Summary {
	n := len(f.Particles)
	if n == 0 {
		return Summary{}
	}

	maxLog := f.Particles[0].Weight
	for _, p := range f.Particles[1:] {
		if p.Weight > maxLog {
			maxLog = p.Weight
		}
	}
	weights := make([]float32, n)
	var wsum float32
	for i, p := range f.Particles {
		weights[i] = math32.Exp(p.Weight - maxLog)
		wsum += weights[i]
	}
	if wsum <= 0 {
		wsum = 1
		for i := range weights {
			weights[i] = 1.0 / float32(n)
		}
	}

	var mx, my, csum, ssum float32
	for i, p := range f.Particles {
		w := weights[i] / wsum
		mx += w * p.X
		my += w * p.Y
		csum += w * math32.Cos(p.Theta)
		ssum += w * math32.Sin(p.Theta)
	}
	mtheta := math32.Atan2(ssum, csum)

	var vx, vy, vtheta, cov float32
	for i, p := range f.Particles {
		w := weights[i] / wsum
		dx := p.X - mx
		dy := p.Y - my
		dtheta := vec.NormalizeAngle(p.Theta - mtheta)
		vx += w * dx * dx
		vy += w * dy * dy
		vtheta += w * dtheta * dtheta
		cov += w * dx * dy
	}

	mean := motion.Pose{X: mx, Y: my, Theta: mtheta}

	var endpoints []Endpoint
	if len(scan.Range) > 0 {
		skip := f.LaserSkip
		if skip < 1 {
			skip = 1
		}
		endpoints = make([]Endpoint, 0, len(scan.Range)/skip+1)
		maxRange := scan.MaxRange
		if f.Params.MaxRange < maxRange {
			maxRange = f.Params.MaxRange
		}
		for i := 0; i < len(scan.Range); i += skip {
			r := scan.Range[i]
			kept := r < maxRange
			if len(f.beamMask) > i {
				kept = kept && f.beamMask[i]
			}
			a := scan.angle(i) + mtheta
			endpoints = append(endpoints, Endpoint{
				X:    mx + r*math32.Cos(a),
				Y:    my + r*math32.Sin(a),
				Kept: kept,
			})
		}
	}

	return Summary{
		Mean:      mean,
		Std:       motion.Pose{X: math32.Sqrt(vx), Y: math32.Sqrt(vy), Theta: math32.Sqrt(vtheta)},
		XYCov:     cov,
		Converged: !f.GlobalMode,
		MeanScan:  endpoints,
	}
}

func gaussianSample(rng *rand.Rand, std float32) float32 {
	if std <= 0 {
		return 0
	}
	return float32(rng.NormFloat64()) * std
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
