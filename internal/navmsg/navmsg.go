// Package navmsg defines the collaborator message shapes consumed and
// published by the navigation core (spec.md section 6). These are plain
// structs, not wire-encoded envelopes: the bus/log-file transport is the
// concern of internal/bus and internal/logfile respectively.
package navmsg

// Odometry is a single wheel-odometry reading.
type Odometry struct {
	X, Y, Theta float32
	TV, RV      float32 // translational / rotational velocity
	Acceleration float32
	Timestamp   float64
}

// LaserConfig describes the beam geometry of a RobotLaser reading.
type LaserConfig struct {
	StartAngle       float32
	FOV              float32
	AngularResolution float32
	MaximumRange     float32
}

// RobotLaser is a single planar range scan plus the robot/laser pose it was
// taken from.
type RobotLaser struct {
	LaserPose  Pose
	RobotPose  Pose
	TV, RV     float32
	Config     LaserConfig
	Range      []float32
	Remission  []float32 // optional
	Timestamp  float64
}

// Pose is a 2-D robot pose: (x, y, theta).
type Pose struct {
	X, Y, Theta float32
}

// Place is a named pose used by goal-by-name queries.
type Place struct {
	Name string
	Pose Pose
}

// MapConfig describes an occupancy grid's physical shape.
type MapConfig struct {
	SizeX, SizeY int
	Resolution   float32
}

// Map is the external map collaborator message: grid cells plus named
// places.
type Map struct {
	Config MapConfig
	Cells  [][]float32 // Cells[x][y]
	Places []Place
}

// Parameters holds the full set of configuration values named in spec.md
// section 6. The fields carry no YAML tags, so config-file keys are the
// lowercased Go field names (numparticles, frontlaseroffset, ...), not
// CARMEN's underscore-separated parameter-server names.
type Parameters struct {
	// localization
	FrontLaserOffset         float32
	RearLaserOffset          float32
	NumParticles             int
	MaxRange                 float32
	MinWallProb              float32
	OutlierFraction          float32
	UpdateDistance           float32
	IntegrateAngleDeg        float32
	LaserSkip                int // 0 = auto
	DoScanmatching           bool
	ConstrainToMap           bool
	OccupiedProb             float32
	LMapStd                  float32
	GlobalLMapStd            float32
	GlobalDistanceThreshold  float32
	GlobalTestSamples        int
	UseSensor                bool
	TrackingBeamMinLikelihood float32
	GlobalBeamMinLikelihood   float32

	// planner
	MaxTVel               float32
	MaxRVel                float32
	ApproachDist           float32
	SideDist               float32
	Length                 float32
	Width                  float32
	Acceleration           float32
	ReactionTime           float32
	GoalSize               float32
	WaypointTolerance      float32
	GoalThetaTolerance     float32
	MapUpdateRadius        float32
	MapUpdateObstacles     bool
	MapUpdateFreespace     bool
	ReplanFrequency        float32
	SmoothPath             bool
	DontIntegrateOdometry  bool
	PlanToNearestFreePoint bool
}

// DefaultParameters returns conservative CARMEN-like defaults.
func DefaultParameters() Parameters {
	return Parameters{
		FrontLaserOffset:          0,
		NumParticles:              500,
		MaxRange:                  50,
		MinWallProb:               0.25,
		OutlierFraction:           0.9,
		UpdateDistance:            0.2,
		IntegrateAngleDeg:         3,
		DoScanmatching:            true,
		ConstrainToMap:            false,
		OccupiedProb:              0.5,
		LMapStd:                   0.15,
		GlobalLMapStd:             0.6,
		GlobalDistanceThreshold:   2.0,
		GlobalTestSamples:         50000,
		UseSensor:                 true,
		TrackingBeamMinLikelihood: 0.45,
		GlobalBeamMinLikelihood:   0.45,

		MaxTVel:                1.0,
		MaxRVel:                1.0,
		ApproachDist:           0.3,
		SideDist:               0.2,
		Length:                 0.5,
		Width:                  0.4,
		Acceleration:           0.5,
		ReactionTime:           0.2,
		GoalSize:               0.3,
		WaypointTolerance:      0.2,
		GoalThetaTolerance:     0.3,
		MapUpdateRadius:        5,
		MapUpdateObstacles:     true,
		MapUpdateFreespace:     true,
		ReplanFrequency:        2,
		SmoothPath:             true,
		PlanToNearestFreePoint: true,
	}
}

// LocalizeGlobalpos is the primary localization output (spec.md section 6).
type LocalizeGlobalpos struct {
	Mean         Pose
	Std          Pose
	XYCov        float32
	Odometry     Pose
	Converged    bool
	Timestamp    float64
}

// Particle is one weighted pose sample for the particle-cloud output
// message (distinct from the filter's internal particle type).
type Particle struct {
	X, Y, Theta float32
	Weight      float32
}

// ParticleCloud is the Particle output message: the full pose array plus
// its mean.
type ParticleCloud struct {
	Particles []Particle
	Mean      Pose
}

// SensorBeam is one scored laser beam endpoint in the Sensor output
// message.
type SensorBeam struct {
	X, Y float32
	Kept bool
}

// Sensor is the scored-scan output message (laser pose plus per-beam
// keep/reject mask).
type Sensor struct {
	LaserPose Pose
	Beams     []SensorBeam
}

// NavigatorStatus is the planner's status output message.
type NavigatorStatus struct {
	RunID      string // distinguishes concurrent/successive playback runs against the same map
	Autonomous bool
	GoalSet    bool
	Goal       Pose
	RobotPose  Pose
}

// Waypoint is one entry of a NavigatorPlan.
type Waypoint struct {
	X, Y, Theta float32
	TV, RV      float32
}

// NavigatorPlan is the planner's path output message.
type NavigatorPlan struct {
	Waypoints []Waypoint
}

// StopReason enumerates why autonomous driving halted.
type StopReason int

const (
	StopUnknown StopReason = iota
	StopGoalReached
	StopUserStopped
)

// AutonomousStopped is published when autonomous driving halts.
type AutonomousStopped struct {
	Reason StopReason
}

// MapKind selects which grid NavigatorMap returns.
type MapKind int

const (
	MapKindOccupancy MapKind = iota
	MapKindUtility
	MapKindCost
)

// NavigatorMap is the response to a requested-map query.
type NavigatorMap struct {
	Kind  MapKind
	Cells [][]float32
}
