// Command navcored wires the five navigation-core components --
// likelihood map, motion model, particle filter, scan matcher and planner
// -- together against either a recorded CARMEN-style log or (once a live
// driver is plumbed in) a running robot. Flag handling and log-verbosity
// setup follow cmd/spectrometer/main.go's pattern.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/itohio/navcore/internal/baseio"
	"github.com/itohio/navcore/internal/bus"
	"github.com/itohio/navcore/internal/config"
	"github.com/itohio/navcore/internal/likelihood"
	"github.com/itohio/navcore/internal/logfile"
	"github.com/itohio/navcore/internal/mcl"
	"github.com/itohio/navcore/internal/motion"
	"github.com/itohio/navcore/internal/navmsg"
	"github.com/itohio/navcore/internal/planner"
	"github.com/itohio/navcore/internal/vasco"
	"github.com/itohio/navcore/pkg/logger"
)

var (
	mapPath    = flag.String("map", "", "path to the occupancy-grid map file (required)")
	logPath    = flag.String("logfile", "", "path to a CARMEN-style log to replay; omit for live operation")
	configPath = flag.String("config", "", "path to a YAML parameter override file")
	fast       = flag.Bool("fast", false, "replay the log as fast as possible, ignoring recorded timestamps")
	autostart  = flag.Bool("autostart", false, "start localized (global-mode init) instead of waiting for a manual pose")
	basic      = flag.Bool("basic", false, "disable scan-matching; MCL runs on odometry and laser alone")
	verbose    = flag.Int("v", 0, "log verbosity: 0=ERROR 1=WARN 2=INFO 3=DEBUG")
	vv         = flag.Bool("vv", false, "shortcut for -v=3")
	trackWidth = flag.Float64("track-width", 0.4, "differential-drive track width in meters, for TV/RV-to-wheel-speed conversion")
)

func main() {
	flag.Parse()
	setupLogging(*verbose, *vv)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		slog.Error("navcored: fatal", "error", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func setupLogging(level int, vv bool) {
	logLevel := slog.LevelInfo
	switch {
	case vv || level >= 3:
		logLevel = slog.LevelDebug
	case level == 2:
		logLevel = slog.LevelInfo
	case level == 1:
		logLevel = slog.LevelWarn
	case level == 0:
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func run(ctx context.Context) error {
	if *mapPath == "" {
		return fmt.Errorf("navcored: -map is required")
	}

	grid, err := loadMap(*mapPath)
	if err != nil {
		return fmt.Errorf("navcored: missing map: %w", err)
	}

	params := navmsg.DefaultParameters()
	if *configPath != "" {
		loader := config.NewLoader("")
		params, err = loader.Load(ctx, *configPath)
		if err != nil {
			return fmt.Errorf("navcored: missing parameters: %w", err)
		}
	}

	lmap, err := likelihood.Build(grid, likelihood.Params{
		OccupiedProb:              params.OccupiedProb,
		LMapStd:                   params.LMapStd,
		GlobalLMapStd:             params.GlobalLMapStd,
		TrackingBeamMinLikelihood: params.TrackingBeamMinLikelihood,
		GlobalBeamMinLikelihood:   params.GlobalBeamMinLikelihood,
	})
	if err != nil {
		return fmt.Errorf("navcored: building likelihood map: %w", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	motionParams := motion.DefaultParams()
	filter := mcl.New(params, motionParams, rng, grid, lmap)

	var matcher *vasco.Matcher
	if !*basic {
		matcher = vasco.NewMatcher(vasco.DefaultConfig(), grid.Config, 10)
	}

	plannerCfg := planner.DefaultConfig()
	plannerCfg.Length = params.Length
	plannerCfg.Width = params.Width
	plannerCfg.ApproachDist = params.ApproachDist
	plannerCfg.SideDist = params.SideDist
	plannerCfg.GoalSize = params.GoalSize
	plannerCfg.WaypointTolerance = params.WaypointTolerance
	plannerCfg.GoalThetaTolerance = params.GoalThetaTolerance
	plannerCfg.MapUpdateRadius = params.MapUpdateRadius
	plannerCfg.MapUpdateObstacles = params.MapUpdateObstacles
	plannerCfg.MapUpdateFreespace = params.MapUpdateFreespace
	plannerCfg.ReplanFrequency = params.ReplanFrequency
	plannerCfg.SmoothPath = params.SmoothPath
	plannerCfg.PlanToNearestFreePoint = params.PlanToNearestFreePoint
	plan := planner.New(plannerCfg, grid)

	if *autostart {
		var scan mcl.Scan
		filter.InitUniform(scan)
	}

	state := &bus.CoreState{Status: navmsg.NavigatorStatus{RunID: logfile.NewRunID()}}
	b := bus.New(64, state)
	drive := baseio.Differential{TrackWidth: float32(*trackWidth)}
	registerHandlers(b, filter, matcher, plan, params, drive)

	go b.Run(ctx)

	if *logPath == "" {
		slog.Info("navcored: no -logfile given, idling for live input wiring")
		<-ctx.Done()
		return nil
	}

	return replay(ctx, *logPath, b, *fast)
}

func registerHandlers(b *bus.Bus, filter *mcl.Filter, matcher *vasco.Matcher, plan *planner.Planner, params navmsg.Parameters, drive baseio.Differential) {
	b.On(bus.KindOdometry, func(ctx context.Context, state *bus.CoreState, msg bus.Message) {
		if !params.DontIntegrateOdometry {
			filter.IncorporateOdometry(msg.Odometry)
		}
		plan.UpdateRobotPose(msg.Odometry)

		status, idx, wp := plan.Advance(msg.Odometry, state.PathIndex)
		state.PathIndex = idx
		if status == planner.StatusFollowing || status == planner.StatusGoalReached {
			wheels := drive.Inverse(wp.TV, wp.RV)
			logger.Log.Debug().Str("component", "navcored").Float64("left", float64(wheels.Left)).Float64("right", float64(wheels.Right)).Msg("wheel command")
		}
	})

	b.On(bus.KindLaser, func(ctx context.Context, state *bus.CoreState, msg bus.Message) {
		scan := scanFromLaser(msg.Laser)
		filter.IncorporateLaser(scan)
		summary := filter.Summarize(scan)
		pose := summary.Mean

		if matcher != nil {
			input := vasco.ScanInput{
				Angles: anglesFromLaser(msg.Laser),
				Ranges: msg.Laser.Range,
				Mask:   nil,
			}
			pose = matcher.Match(input, pose, motion.Pose{})
		}

		state.Localizer = navmsg.LocalizeGlobalpos{
			Mean:      toNavmsgPose(pose),
			Std:       toNavmsgPose(summary.Std),
			XYCov:     summary.XYCov,
			Converged: summary.Converged,
			Timestamp: msg.Laser.Timestamp,
		}

		plan.UpdateMapFromLaser(planner.LaserScan{
			Pose:           toMotionPose(msg.Laser.RobotPose),
			Angles:         anglesFromLaser(msg.Laser),
			Ranges:         msg.Laser.Range,
			MaxUsableRange: msg.Laser.Config.MaximumRange,
		})
	})

	b.On(bus.KindGoal, func(ctx context.Context, state *bus.CoreState, msg bus.Message) {
		plan.SetGoal(msg.Goal)
		state.LastGoal = msg.Goal
		state.HaveGoal = true
		if err := plan.Replan(); err != nil {
			slog.Warn("navcored: replan failed", "error", err)
		}
	})
}

func toMotionPose(p navmsg.Pose) motion.Pose {
	return motion.Pose{X: p.X, Y: p.Y, Theta: p.Theta}
}

func toNavmsgPose(p motion.Pose) navmsg.Pose {
	return navmsg.Pose{X: p.X, Y: p.Y, Theta: p.Theta}
}

func scanFromLaser(l navmsg.RobotLaser) mcl.Scan {
	return mcl.Scan{
		StartAngle:        l.Config.StartAngle,
		AngularResolution: l.Config.AngularResolution,
		MaxRange:          l.Config.MaximumRange,
		Range:             l.Range,
	}
}

func anglesFromLaser(l navmsg.RobotLaser) []float32 {
	angles := make([]float32, len(l.Range))
	for i := range angles {
		angles[i] = l.Config.StartAngle + float32(i)*l.Config.AngularResolution
	}
	return angles
}

// replay streams a (possibly gzip-compressed) CARMEN log into the bus in
// recorded order, optionally pacing delivery to the recorded timestamps
// when fast is false.
func replay(ctx context.Context, path string, b *bus.Bus, fast bool) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("navcored: open log: %w", err)
	}
	defer file.Close()

	r, err := logfile.OpenReader(file)
	if err != nil {
		return fmt.Errorf("navcored: open log stream: %w", err)
	}

	var lastTimestamp float64
	haveLast := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		rec, err := logfile.DecodeLine(line)
		if err != nil {
			slog.Warn("navcored: skipping malformed log line", "error", err)
			continue
		}

		var timestamp float64
		var msg bus.Message
		switch rec.Tag {
		case logfile.TagOdom:
			timestamp = rec.Odom.Timestamp
			msg = bus.Message{Kind: bus.KindOdometry, Odometry: motion.Pose{X: float32(rec.Odom.X), Y: float32(rec.Odom.Y), Theta: float32(rec.Odom.Theta)}}
		case logfile.TagRobotLaser1:
			rl := rec.RobotLaser1
			timestamp = rl.Timestamp
			ranges := make([]float32, len(rl.Range))
			for i, v := range rl.Range {
				ranges[i] = float32(v)
			}
			msg = bus.Message{Kind: bus.KindLaser, Laser: navmsg.RobotLaser{
				LaserPose: navmsg.Pose{X: float32(rl.LaserPoseX), Y: float32(rl.LaserPoseY), Theta: float32(rl.LaserPoseTheta)},
				RobotPose: navmsg.Pose{X: float32(rl.RobotPoseX), Y: float32(rl.RobotPoseY), Theta: float32(rl.RobotPoseTheta)},
				TV:        float32(rl.TV),
				RV:        float32(rl.RV),
				Config: navmsg.LaserConfig{
					StartAngle:        float32(rl.StartAngle),
					FOV:               float32(rl.FOV),
					AngularResolution: float32(rl.AngularResolution),
					MaximumRange:      float32(rl.MaximumRange),
				},
				Range:     ranges,
				Timestamp: rl.Timestamp,
			}}
		default:
			continue
		}

		if !fast && haveLast && timestamp > lastTimestamp {
			select {
			case <-time.After(time.Duration((timestamp - lastTimestamp) * float64(time.Second))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastTimestamp = timestamp
		haveLast = true

		b.Publish(ctx, msg)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("navcored: scan log: %w", err)
	}
	return nil
}
