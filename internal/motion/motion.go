// Package motion implements the odometry motion model (spec.md section 4.2):
// turning an odometry delta into a noisy pose update applied to each particle
// of the filter. Grounded directly on the CARMEN localize-core odometry
// incorporation routine (localize_core.c,
// carmen_localize_incorporate_odometry), which offers two interchangeable
// models selected by Params.Legacy.
package motion

import (
	"math/rand"

	"github.com/chewxy/math32"

	"github.com/itohio/navcore/pkg/vec"
)

// Pose is a 2-D robot pose: position plus heading, in radians, normalized to
// (-pi, pi].
type Pose struct {
	X, Y, Theta float32
}

// Params configures noise injection for both motion-model variants. The
// "new" model scales noise off delta translation/rotation directly; the
// legacy model reuses the four CARMEN odom_a1..a4 coefficients to derive
// per-component Gaussian stds from the (dr1, dt, dr2) decomposition.
type Params struct {
	Legacy bool // use the legacy dr1/dt/dr2 decomposition

	// "new" model noise ratios.
	DownrangeStdRatio  float32 // fraction of |delta_t| used as downrange std
	CrossrangeStdRatio float32 // fraction of |delta_t| used as crossrange std
	TurnStdRatio       float32 // fraction of |delta_theta| used as turn std
	MinTurnStd         float32 // floor so a near-zero rotation still has some turn noise

	// legacy model coefficients (CARMEN odom_a1..a4).
	Alpha1 float32
	Alpha2 float32
	Alpha3 float32
	Alpha4 float32
}

// DefaultParams mirrors typical CARMEN parameter-server values.
func DefaultParams() Params {
	return Params{
		DownrangeStdRatio:  0.05,
		CrossrangeStdRatio: 0.02,
		TurnStdRatio:       0.05,
		MinTurnStd:         0.001,
		Alpha1:             0.2,
		Alpha2:             0.2,
		Alpha3:             0.2,
		Alpha4:             0.2,
	}
}

// ZeroNoiseParams returns a parameterization under which Sample/Legacy never
// perturb the input: every particle propagated through Apply with a zero
// odometry delta lands exactly where it started.
func ZeroNoiseParams() Params {
	return Params{}
}

// Delta is the odometry motion to incorporate, already expressed as a
// translation magnitude and a rotation, plus the heading-rotation tangent
// CARMEN calls backwards detection.
type Delta struct {
	Translation float32 // meters, always >= 0
	Rotation    float32 // radians, normalized
	Backwards   bool
}

// ComputeDelta derives a Delta from two successive raw odometry poses,
// following carmen_localize_incorporate_odometry: translation is the
// Euclidean distance between positions, rotation is the normalized heading
// difference, and backwards is true when the displacement vector points
// against the prior heading.
func ComputeDelta(prev, cur Pose) Delta {
	dx := cur.X - prev.X
	dy := cur.Y - prev.Y
	translation := math32.Sqrt(dx*dx + dy*dy)
	rotation := vec.NormalizeAngle(cur.Theta - prev.Theta)
	backwards := dx*math32.Cos(prev.Theta)+dy*math32.Sin(prev.Theta) < 0
	return Delta{Translation: translation, Rotation: rotation, Backwards: backwards}
}

// Sample draws one (downrange, crossrange, turn) triple for the "new" motion
// model (spec.md 4.2 contract), using rng for the Gaussian draws.
func Sample(d Delta, p Params, rng *rand.Rand) (downrange, crossrange, turn float32) {
	downrangeStd := p.DownrangeStdRatio * absf(d.Translation)
	crossrangeStd := p.CrossrangeStdRatio * absf(d.Translation)
	turnStd := p.TurnStdRatio * absf(d.Rotation)
	if turnStd < p.MinTurnStd {
		turnStd = p.MinTurnStd
	}

	downrange = gaussian(rng, d.Translation, downrangeStd)
	crossrange = gaussian(rng, 0, crossrangeStd)
	turn = gaussian(rng, d.Rotation, turnStd)
	return
}

// Apply propagates pose through one "new"-model odometry step, using the
// CARMEN downrange/crossrange/turn update equations with the backwards sign
// flip.
func Apply(pose Pose, downrange, crossrange, turn float32, backwards bool) Pose {
	along := downrange*math32.Cos(pose.Theta+turn/2) + crossrange*math32.Cos(pose.Theta+turn/2+math32.Pi/2)
	across := downrange*math32.Sin(pose.Theta+turn/2) + crossrange*math32.Sin(pose.Theta+turn/2+math32.Pi/2)
	if backwards {
		along, across = -along, -across
	}
	return Pose{
		X:     pose.X + along,
		Y:     pose.Y + across,
		Theta: vec.NormalizeAngle(pose.Theta + turn),
	}
}

// legacyCollapseThreshold is the CARMEN OLD_MOTION_MODEL instability guard:
// below this translation the dr1/dr2 split degenerates and is replaced by an
// even split of the rotation.
const legacyCollapseThreshold = 0.05

// LegacyDecompose splits an odometry delta into the CARMEN (dr1, dt, dr2)
// triple: initial rotation, translation, final rotation. prev.Theta is the
// heading the robot had before this step (needed to derive dr1 from the raw
// displacement vector).
func LegacyDecompose(prev, cur Pose) (dr1, dt, dr2 float32) {
	dx := cur.X - prev.X
	dy := cur.Y - prev.Y
	dt = math32.Sqrt(dx*dx + dy*dy)
	dtheta := vec.NormalizeAngle(cur.Theta - prev.Theta)
	backwards := dx*math32.Cos(prev.Theta)+dy*math32.Sin(prev.Theta) < 0

	if dt < legacyCollapseThreshold {
		dr1 = dtheta / 2
		dr2 = dr1
		return
	}

	if backwards {
		dr1 = vec.NormalizeAngle(math32.Atan2(prev.Y-cur.Y, prev.X-cur.X) - prev.Theta)
	} else {
		dr1 = vec.NormalizeAngle(math32.Atan2(cur.Y-prev.Y, cur.X-prev.X) - prev.Theta)
	}
	dr2 = vec.NormalizeAngle(dtheta - dr1)
	return
}

// LegacySample draws one (dhatr1, dhatt, dhatr2) triple given the
// decomposition and the odom_a1..a4 coefficients, then applies it to pose,
// mirroring the OLD_MOTION_MODEL branch of carmen_localize_incorporate_odometry,
// including its backwards sign flip (localize_core.c:526-537).
func LegacySample(pose Pose, dr1, dt, dr2 float32, backwards bool, p Params, rng *rand.Rand) Pose {
	stdR1 := p.Alpha1*absf(dr1) + p.Alpha2*dt
	stdT := p.Alpha3*dt + p.Alpha4*absf(dr1+dr2)
	stdR2 := p.Alpha1*absf(dr2) + p.Alpha2*dt

	dhatR1 := gaussian(rng, dr1, stdR1)
	dhatT := gaussian(rng, dt, stdT)
	dhatR2 := gaussian(rng, dr2, stdR2)

	x := pose.X
	y := pose.Y
	if backwards {
		x -= dhatT * math32.Cos(pose.Theta+dhatR1)
		y -= dhatT * math32.Sin(pose.Theta+dhatR1)
	} else {
		x += dhatT * math32.Cos(pose.Theta+dhatR1)
		y += dhatT * math32.Sin(pose.Theta+dhatR1)
	}

	return Pose{
		X:     x,
		Y:     y,
		Theta: vec.NormalizeAngle(pose.Theta + dhatR1 + dhatR2),
	}
}

// gaussian draws from N(mean, std^2), returning mean unperturbed when std<=0
// (the ZeroNoiseParams case).
func gaussian(rng *rand.Rand, mean, std float32) float32 {
	if std <= 0 {
		return mean
	}
	return mean + float32(rng.NormFloat64())*std
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
