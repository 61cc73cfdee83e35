// Package vasco implements the local scan matcher (C4, spec.md section
// 4.4): a sliding-window local evidence map scored by hill climbing against
// a motion-model prior. Named after the original CARMEN vasco-core
// collaborator it is grounded on (original_source/.../vasco-core). The
// quadtree of touched leaves the original uses is replaced by a bitset-
// backed sparse set per spec.md section 9 Design Notes ("the tree is an
// optimization, not a contract"). Convolution coefficients follow the
// teacher's x/math/filter/gaussian computeCoefficients idiom.
package vasco

import (
	"github.com/chewxy/math32"

	"github.com/itohio/navcore/internal/motion"
	"github.com/itohio/navcore/pkg/gridmap"
	"github.com/itohio/navcore/pkg/vec"
)

// Endpoint is a world-frame laser beam endpoint.
type Endpoint struct {
	X, Y float32
}

// BBox is an axis-aligned bounding box of endpoint coordinates.
type BBox struct {
	MinX, MinY, MaxX, MaxY float32
}

func (b BBox) intersects(o BBox) bool {
	return b.MinX <= o.MaxX && b.MaxX >= o.MinX && b.MinY <= o.MaxY && b.MaxY >= o.MinY
}

func boundingBox(endpoints []Endpoint) BBox {
	if len(endpoints) == 0 {
		return BBox{}
	}
	b := BBox{MinX: endpoints[0].X, MaxX: endpoints[0].X, MinY: endpoints[0].Y, MaxY: endpoints[0].Y}
	for _, e := range endpoints[1:] {
		if e.X < b.MinX {
			b.MinX = e.X
		}
		if e.X > b.MaxX {
			b.MaxX = e.X
		}
		if e.Y < b.MinY {
			b.MinY = e.Y
		}
		if e.Y > b.MaxY {
			b.MaxY = e.Y
		}
	}
	return b
}

// ScanHistoryEntry is one past corrected scan (spec.md section 3).
type ScanHistoryEntry struct {
	Timestamp     float64
	EstimatedPose motion.Pose
	Ranges        []float32
	Angles        []float32
	Endpoints     []Endpoint
	BBox          BBox
}

// History is a fixed-capacity ring of ScanHistoryEntry.
type History struct {
	entries []ScanHistoryEntry
	cap     int
	size    int
	head    int // index of the oldest entry
}

// NewHistory allocates a ring with the given capacity.
func NewHistory(capacity int) *History {
	return &History{entries: make([]ScanHistoryEntry, capacity), cap: capacity}
}

// Push appends a new entry, evicting the oldest if the ring is full.
func (h *History) Push(e ScanHistoryEntry) {
	if h.cap == 0 {
		return
	}
	idx := (h.head + h.size) % h.cap
	if h.size < h.cap {
		h.size++
	} else {
		h.head = (h.head + 1) % h.cap
		idx = (h.head + h.size - 1) % h.cap
	}
	h.entries[idx] = e
}

// Len reports the number of stored entries.
func (h *History) Len() int { return h.size }

// Newest returns the most recently pushed entry and true, or the zero value
// and false if the history is empty.
func (h *History) Newest() (ScanHistoryEntry, bool) {
	if h.size == 0 {
		return ScanHistoryEntry{}, false
	}
	return h.entries[(h.head+h.size-1)%h.cap], true
}

// Walk visits entries from newest to oldest, stopping early if fn returns
// false.
func (h *History) Walk(fn func(ScanHistoryEntry) bool) {
	for i := h.size - 1; i >= 0; i-- {
		if !fn(h.entries[(h.head+i)%h.cap]) {
			return
		}
	}
}

// LocalEvidenceMap is the dense grid plus bitset-backed touched-set the
// matcher rasterizes and convolves (spec.md section 3).
type LocalEvidenceMap struct {
	Config gridmap.Config

	hit   []float32
	obs   []float32
	prob  []float32
	scrth []float32

	touched    []bool
	touchedIdx []int
}

// NewLocalEvidenceMap allocates a map sized like the occupancy grid it
// shadows.
func NewLocalEvidenceMap(cfg gridmap.Config) *LocalEvidenceMap {
	n := cfg.SizeX * cfg.SizeY
	return &LocalEvidenceMap{
		Config:  cfg,
		hit:     make([]float32, n),
		obs:     make([]float32, n),
		prob:    make([]float32, n),
		scrth:   make([]float32, n),
		touched: make([]bool, n),
	}
}

func (m *LocalEvidenceMap) index(x, y int) (int, bool) {
	if x < 0 || x >= m.Config.SizeX || y < 0 || y >= m.Config.SizeY {
		return 0, false
	}
	return x*m.Config.SizeY + y, true
}

func (m *LocalEvidenceMap) mark(idx int) {
	if !m.touched[idx] {
		m.touched[idx] = true
		m.touchedIdx = append(m.touchedIdx, idx)
	}
}

// Clear resets only the cells touched since the last Clear (sub-linear,
// spec.md section 3's quadtree contract realized over the sparse set).
func (m *LocalEvidenceMap) Clear() {
	for _, idx := range m.touchedIdx {
		m.hit[idx] = 0
		m.obs[idx] = 0
		m.prob[idx] = 0
		m.scrth[idx] = 0
		m.touched[idx] = false
	}
	m.touchedIdx = m.touchedIdx[:0]
}

func (m *LocalEvidenceMap) worldToCell(wx, wy float32) (int, int) {
	fx := (wx - m.Config.OriginX) / m.Config.Resolution
	fy := (wy - m.Config.OriginY) / m.Config.Resolution
	return int(math32.Round(fx)), int(math32.Round(fy))
}

// rasterize marks each endpoint cell as hit+observed.
func (m *LocalEvidenceMap) rasterize(endpoints []Endpoint, maxRange float32, origin Endpoint) {
	for _, e := range endpoints {
		dx, dy := e.X-origin.X, e.Y-origin.Y
		if dx*dx+dy*dy > maxRange*maxRange {
			continue
		}
		cx, cy := m.worldToCell(e.X, e.Y)
		idx, ok := m.index(cx, cy)
		if !ok {
			continue
		}
		m.mark(idx)
		m.hit[idx]++
		m.obs[idx]++
	}
}

// computeProbability sets prob = hit/obs where obs>0, else stdVal, capped
// at 1.0 (spec.md section 4.4).
func (m *LocalEvidenceMap) computeProbability(stdVal float32) {
	for _, idx := range m.touchedIdx {
		var p float32
		if m.obs[idx] > 0 {
			p = m.hit[idx] / m.obs[idx]
		} else {
			p = stdVal
		}
		if p > 1 {
			p = 1
		}
		m.prob[idx] = p
	}
}

// gaussianCoefficients mirrors the teacher's x/math/filter/gaussian
// computeCoefficients: a normalized 1-D Gaussian kernel of odd length.
func gaussianCoefficients(length int) []float32 {
	half := length / 2
	coeffs := make([]float32, length)
	sigma := float32(half) / 2
	if sigma <= 0 {
		sigma = 1
	}
	var sum float32
	for i := 0; i < length; i++ {
		x := float32(i - half)
		c := math32.Exp(-(x * x) / (2 * sigma * sigma))
		coeffs[i] = c
		sum += c
	}
	for i := range coeffs {
		coeffs[i] /= sum
	}
	return coeffs
}

// convolve runs numConvolve passes of a separable Gaussian kernel restricted
// to touched cells plus a half-kernel margin (spec.md section 4.4).
func (m *LocalEvidenceMap) convolve(kernelLength, numConvolve int) {
	if kernelLength < 1 {
		return
	}
	coeffs := gaussianCoefficients(kernelLength)
	half := kernelLength / 2

	cellSet := make(map[int]bool, len(m.touchedIdx)*2)
	for _, idx := range m.touchedIdx {
		x, y := idx/m.Config.SizeY, idx%m.Config.SizeY
		for dx := -half; dx <= half; dx++ {
			if nx := x + dx; nx >= 0 && nx < m.Config.SizeX {
				if nidx, ok := m.index(nx, y); ok {
					cellSet[nidx] = true
				}
			}
		}
		for dy := -half; dy <= half; dy++ {
			if ny := y + dy; ny >= 0 && ny < m.Config.SizeY {
				if nidx, ok := m.index(x, ny); ok {
					cellSet[nidx] = true
				}
			}
		}
	}
	cells := make([]int, 0, len(cellSet))
	for idx := range cellSet {
		cells = append(cells, idx)
	}

	for pass := 0; pass < numConvolve; pass++ {
		for _, idx := range cells {
			x, y := idx/m.Config.SizeY, idx%m.Config.SizeY
			var sum, wsum float32
			for k := -half; k <= half; k++ {
				nx := x + k
				if nx < 0 || nx >= m.Config.SizeX {
					continue
				}
				nidx, _ := m.index(nx, y)
				c := coeffs[k+half]
				sum += c * m.prob[nidx]
				wsum += c
			}
			if wsum > 0 {
				m.scrth[idx] = sum / wsum
			}
		}
		for _, idx := range cells {
			m.prob[idx] = m.scrth[idx]
		}
		for _, idx := range cells {
			x, y := idx/m.Config.SizeY, idx%m.Config.SizeY
			var sum, wsum float32
			for k := -half; k <= half; k++ {
				ny := y + k
				if ny < 0 || ny >= m.Config.SizeY {
					continue
				}
				nidx, _ := m.index(x, ny)
				c := coeffs[k+half]
				sum += c * m.prob[nidx]
				wsum += c
			}
			if wsum > 0 {
				m.scrth[idx] = sum / wsum
			}
		}
		for _, idx := range cells {
			m.prob[idx] = m.scrth[idx]
		}
		for _, idx := range cells {
			m.mark(idx)
		}
	}
}

// Prob looks up the convolved probability at a world-frame coordinate, 0 if
// out of bounds.
func (m *LocalEvidenceMap) Prob(wx, wy float32) float32 {
	cx, cy := m.worldToCell(wx, wy)
	idx, ok := m.index(cx, cy)
	if !ok {
		return 0
	}
	return m.prob[idx]
}

// Config parameterizes the matcher (spec.md section 4.4).
type Config struct {
	LocalMapMaxRange    float32
	MaxUsedHistory      int
	UseLastScans        int
	MinBboxDistance     float32
	NumConvolve         int
	KernelLength        int
	StdVal              float32
	PosCorrStepSizeLoop int
	DeltaForward        float32
	DeltaSideward       float32
	DeltaRotation       float32
	SigmaForward        float32
	SigmaSideward       float32
	SigmaRotation       float32
}

// DefaultConfig mirrors typical vasco-core tuning.
func DefaultConfig() Config {
	return Config{
		LocalMapMaxRange:    8,
		MaxUsedHistory:      10,
		UseLastScans:        3,
		MinBboxDistance:     0.2,
		NumConvolve:         2,
		KernelLength:        5,
		StdVal:              0.5,
		PosCorrStepSizeLoop: 4,
		DeltaForward:        0.05,
		DeltaSideward:       0.05,
		DeltaRotation:       0.05,
		SigmaForward:        0.1,
		SigmaSideward:       0.1,
		SigmaRotation:       0.1,
	}
}

// Matcher holds the scan history and evidence map across calls.
type Matcher struct {
	Config  Config
	History *History
	grid    gridmap.Config
}

// NewMatcher allocates a matcher shadowing an occupancy grid of cfg shape.
func NewMatcher(cfg Config, gridCfg gridmap.Config, historyCapacity int) *Matcher {
	return &Matcher{Config: cfg, History: NewHistory(historyCapacity), grid: gridCfg}
}

// ScanInput is one scan to match: beam angles/ranges plus the beam mask to
// score.
type ScanInput struct {
	Angles []float32
	Ranges []float32
	Mask   []bool
}

func endpointsFor(scan ScanInput, pose motion.Pose, maxRange float32) []Endpoint {
	out := make([]Endpoint, 0, len(scan.Ranges))
	for i, r := range scan.Ranges {
		if r > maxRange {
			continue
		}
		a := scan.Angles[i] + pose.Theta
		out = append(out, Endpoint{X: pose.X + r*math32.Cos(a), Y: pose.Y + r*math32.Sin(a)})
	}
	return out
}

// Match implements the scan-matcher contract (spec.md section 4.4):
// match(scan, priorPose) -> correctedPose. odomMotion is the odometry's
// best-guess (forward, sideward, rotation) displacement since the last
// matched scan, used as the hill-climb's motion-model prior.
func (m *Matcher) Match(scan ScanInput, priorPose motion.Pose, odomMotion motion.Pose) motion.Pose {
	endpoints := endpointsFor(scan, priorPose, m.Config.LocalMapMaxRange)
	bbox := boundingBox(endpoints)

	entry := ScanHistoryEntry{
		EstimatedPose: priorPose,
		Ranges:        append([]float32(nil), scan.Ranges...),
		Angles:        append([]float32(nil), scan.Angles...),
		Endpoints:     endpoints,
		BBox:          bbox,
	}

	if m.History.Len() == 0 {
		m.History.Push(entry)
		return priorPose
	}

	evidence := NewLocalEvidenceMap(m.grid)
	evidence.rasterize(endpoints, m.Config.LocalMapMaxRange, Endpoint{X: priorPose.X, Y: priorPose.Y})

	included := 0
	var lastIncluded motion.Pose
	haveLast := false
	m.History.Walk(func(old ScanHistoryEntry) bool {
		if included >= m.Config.MaxUsedHistory {
			return false
		}
		if !old.BBox.intersects(bbox) {
			return true
		}
		use := included < m.Config.UseLastScans
		if !use && haveLast {
			d := math32.Sqrt(sqr(old.EstimatedPose.X-lastIncluded.X) + sqr(old.EstimatedPose.Y-lastIncluded.Y))
			use = d > m.Config.MinBboxDistance
		}
		if !use && !haveLast {
			use = true
		}
		if !use {
			return true
		}
		evidence.rasterize(old.Endpoints, m.Config.LocalMapMaxRange, Endpoint{X: priorPose.X, Y: priorPose.Y})
		lastIncluded = old.EstimatedPose
		haveLast = true
		included++
		return true
	})

	evidence.computeProbability(m.Config.StdVal)
	evidence.convolve(m.Config.KernelLength, m.Config.NumConvolve)

	corrected := m.hillClimb(scan, priorPose, odomMotion, evidence)

	correctedEndpoints := endpointsFor(scan, corrected, m.Config.LocalMapMaxRange)
	entry.EstimatedPose = corrected
	entry.Endpoints = correctedEndpoints
	entry.BBox = boundingBox(correctedEndpoints)
	m.History.Push(entry)

	return corrected
}

type move struct{ forward, sideward, rotation float32 }

// hillClimb implements spec.md section 4.4's six-candidate-move search:
// accept any strictly improving move and retry at the same step scale;
// only halve the scale once a round yields no improvement, mirroring
// fit_data_in_local_map's loop/div structure (vascocore_matching.c:277-328).
func (m *Matcher) hillClimb(scan ScanInput, prior motion.Pose, odomMotion motion.Pose, evidence *LocalEvidenceMap) motion.Pose {
	best := move{}
	bestScore := m.score(scan, prior, best, odomMotion, evidence)

	scale := float32(1.0)
	for loop := 0; loop < m.Config.PosCorrStepSizeLoop; {
		candidates := []move{
			{best.forward + m.Config.DeltaForward*scale, best.sideward, best.rotation},
			{best.forward - m.Config.DeltaForward*scale, best.sideward, best.rotation},
			{best.forward, best.sideward + m.Config.DeltaSideward*scale, best.rotation},
			{best.forward, best.sideward - m.Config.DeltaSideward*scale, best.rotation},
			{best.forward, best.sideward, best.rotation + m.Config.DeltaRotation*scale},
			{best.forward, best.sideward, best.rotation - m.Config.DeltaRotation*scale},
		}

		improved := false
		for _, c := range candidates {
			s := m.score(scan, prior, c, odomMotion, evidence)
			if s > bestScore {
				bestScore = s
				best = c
				improved = true
			}
		}
		if improved {
			continue
		}
		scale /= 2
		loop++
	}

	return applyMove(prior, best)
}

func applyMove(prior motion.Pose, mv move) motion.Pose {
	c := math32.Cos(prior.Theta)
	s := math32.Sin(prior.Theta)
	return motion.Pose{
		X:     prior.X + mv.forward*c - mv.sideward*s,
		Y:     prior.Y + mv.forward*s + mv.sideward*c,
		Theta: vec.NormalizeAngle(prior.Theta + mv.rotation),
	}
}

func (m *Matcher) score(scan ScanInput, prior motion.Pose, mv move, odomMotion motion.Pose, evidence *LocalEvidenceMap) float32 {
	pose := applyMove(prior, mv)

	var sum float32
	for i, r := range scan.Ranges {
		if scan.Mask != nil && !scan.Mask[i] {
			continue
		}
		if r > m.Config.LocalMapMaxRange {
			continue
		}
		a := scan.Angles[i] + pose.Theta
		ex := pose.X + r*math32.Cos(a)
		ey := pose.Y + r*math32.Sin(a)
		p := evidence.Prob(ex, ey)
		if p <= 0 {
			p = 1e-6
		}
		sum += math32.Log(p)
	}

	sum += gaussianLogPenalty(mv.forward-odomMotion.X, m.Config.SigmaForward)
	sum += gaussianLogPenalty(mv.sideward-odomMotion.Y, m.Config.SigmaSideward)
	sum += gaussianLogPenalty(mv.rotation-odomMotion.Theta, m.Config.SigmaRotation)

	return sum
}

func gaussianLogPenalty(err, sigma float32) float32 {
	if sigma <= 0 {
		return 0
	}
	return -0.5 * (err / sigma) * (err / sigma)
}

func sqr(v float32) float32 { return v * v }
