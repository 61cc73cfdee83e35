// Package logfile implements the line-oriented CARMEN log format (spec.md
// section 6): ODOM, FLASER, ROBOTLASER1, TRUEPOS, PARAM and SYNC tags,
// transparent gzip reading, and a forward-scan byte-offset index. ODOM,
// ROBOTLASER1, TRUEPOS and PARAM lines are decoded into fields (ODOM and
// ROBOTLASER1 can also be encoded); FLASER and SYNC lines are recognized by
// tag and kept only as raw text. This is
// the log-file collaborator contract the navigation core consumes/
// produces; the player/recorder binary that drives playback timing stays
// out of scope. Field order is grounded on
// original_source/.../readlog/readlog.c's
// carmen_string_to_robot_laser_message.
package logfile

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Tag identifies a log record's message kind.
type Tag string

const (
	TagOdom        Tag = "ODOM"
	TagFLaser      Tag = "FLASER"
	TagRobotLaser1 Tag = "ROBOTLASER1"
	TagTruePos     Tag = "TRUEPOS"
	TagParam       Tag = "PARAM"
	TagSync        Tag = "SYNC"
)

// Odom is a decoded ODOM record.
type Odom struct {
	X, Y, Theta float64
	TV, RV      float64
	Timestamp   float64
}

// FLaser is a decoded legacy-laser record: range readings plus the
// interpolated robot pose.
type FLaser struct {
	Ranges    []float64
	X, Y, Theta float64
	Timestamp float64
}

// RobotLaser1 is a decoded modern laser record (spec.md section 6 field
// order).
type RobotLaser1 struct {
	LaserType        int
	StartAngle       float64
	FOV              float64
	AngularResolution float64
	MaximumRange     float64
	Accuracy         float64
	RemissionMode    int
	Range            []float64
	Remission        []float64
	LaserPoseX       float64
	LaserPoseY       float64
	LaserPoseTheta   float64
	RobotPoseX       float64
	RobotPoseY       float64
	RobotPoseTheta   float64
	TV               float64
	RV               float64
	ForwardSafetyDist float64
	SideSafetyDist   float64
	TurnAxis         float64
	Timestamp        float64
	Host             string
}

// TruePos is a decoded ground-truth pose record.
type TruePos struct {
	X, Y, Theta float64
}

// Param is a decoded parameter-server assignment.
type Param struct {
	Key, Value string
}

// Record is one decoded log line.
type Record struct {
	Tag         Tag
	Odom        *Odom
	FLaser      *FLaser
	RobotLaser1 *RobotLaser1
	TruePos     *TruePos
	Param       *Param
	Raw         string
}

var ErrUnknownTag = errors.New("logfile: unrecognized tag")

// EncodeRobotLaser1 renders r as a ROBOTLASER1 log line, field order exactly
// matching carmen_string_to_robot_laser_message.
func EncodeRobotLaser1(r RobotLaser1) string {
	var b strings.Builder
	b.WriteString("ROBOTLASER1")
	writeFields(&b,
		f(r.LaserType), f(r.StartAngle), f(r.FOV), f(r.AngularResolution),
		f(r.MaximumRange), f(r.Accuracy), f(r.RemissionMode))
	writeFields(&b, f(len(r.Range)))
	for _, v := range r.Range {
		writeFields(&b, f(v))
	}
	writeFields(&b, f(len(r.Remission)))
	for _, v := range r.Remission {
		writeFields(&b, f(v))
	}
	writeFields(&b,
		f(r.LaserPoseX), f(r.LaserPoseY), f(r.LaserPoseTheta),
		f(r.RobotPoseX), f(r.RobotPoseY), f(r.RobotPoseTheta),
		f(r.TV), f(r.RV), f(r.ForwardSafetyDist), f(r.SideSafetyDist),
		f(r.TurnAxis), f(r.Timestamp))
	b.WriteByte(' ')
	b.WriteString(r.Host)
	return b.String()
}

// DecodeRobotLaser1 parses a ROBOTLASER1 log line.
func DecodeRobotLaser1(line string) (RobotLaser1, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != string(TagRobotLaser1) {
		return RobotLaser1{}, fmt.Errorf("logfile: %w: want ROBOTLASER1", ErrUnknownTag)
	}
	s := newScanner(fields[1:])

	var r RobotLaser1
	r.LaserType = s.int()
	r.StartAngle = s.float()
	r.FOV = s.float()
	r.AngularResolution = s.float()
	r.MaximumRange = s.float()
	r.Accuracy = s.float()
	r.RemissionMode = s.int()

	numReadings := s.int()
	r.Range = make([]float64, numReadings)
	for i := range r.Range {
		r.Range[i] = s.float()
	}

	numRemissions := s.int()
	r.Remission = make([]float64, numRemissions)
	for i := range r.Remission {
		r.Remission[i] = s.float()
	}

	r.LaserPoseX = s.float()
	r.LaserPoseY = s.float()
	r.LaserPoseTheta = s.float()
	r.RobotPoseX = s.float()
	r.RobotPoseY = s.float()
	r.RobotPoseTheta = s.float()
	r.TV = s.float()
	r.RV = s.float()
	r.ForwardSafetyDist = s.float()
	r.SideSafetyDist = s.float()
	r.TurnAxis = s.float()
	r.Timestamp = s.float()
	r.Host = s.rest()

	return r, s.err
}

// EncodeOdom renders o as an ODOM log line.
func EncodeOdom(o Odom) string {
	var b strings.Builder
	b.WriteString("ODOM")
	writeFields(&b, f(o.X), f(o.Y), f(o.Theta), f(o.TV), f(o.RV), f(o.Timestamp))
	return b.String()
}

// DecodeOdom parses an ODOM log line.
func DecodeOdom(line string) (Odom, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != string(TagOdom) {
		return Odom{}, fmt.Errorf("logfile: %w: want ODOM", ErrUnknownTag)
	}
	s := newScanner(fields[1:])
	o := Odom{X: s.float(), Y: s.float(), Theta: s.float(), TV: s.float(), RV: s.float(), Timestamp: s.float()}
	return o, s.err
}

// DecodeParam parses a PARAM log line ("PARAM key value...").
func DecodeParam(line string) (Param, error) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 || fields[0] != string(TagParam) {
		return Param{}, fmt.Errorf("logfile: %w: want PARAM", ErrUnknownTag)
	}
	value := ""
	if len(fields) == 3 {
		value = fields[2]
	}
	return Param{Key: fields[1], Value: value}, nil
}

// DecodeTruePos parses a TRUEPOS log line.
func DecodeTruePos(line string) (TruePos, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != string(TagTruePos) {
		return TruePos{}, fmt.Errorf("logfile: %w: want TRUEPOS", ErrUnknownTag)
	}
	s := newScanner(fields[1:])
	return TruePos{X: s.float(), Y: s.float(), Theta: s.float()}, s.err
}

// DecodeLine dispatches a raw log line to the matching decoder based on its
// leading tag.
func DecodeLine(line string) (Record, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Record{}, nil
	}
	tag := Tag(strings.Fields(trimmed)[0])
	switch tag {
	case TagOdom:
		o, err := DecodeOdom(trimmed)
		return Record{Tag: tag, Odom: &o, Raw: line}, err
	case TagRobotLaser1:
		r, err := DecodeRobotLaser1(trimmed)
		return Record{Tag: tag, RobotLaser1: &r, Raw: line}, err
	case TagTruePos:
		t, err := DecodeTruePos(trimmed)
		return Record{Tag: tag, TruePos: &t, Raw: line}, err
	case TagParam:
		p, err := DecodeParam(trimmed)
		return Record{Tag: tag, Param: &p, Raw: line}, err
	case TagFLaser, TagSync:
		return Record{Tag: tag, Raw: line}, nil
	default:
		return Record{Tag: tag, Raw: line}, nil
	}
}

// scanner walks whitespace-delimited fields, tracking the first parse
// error so callers can check it once at the end (matches CLF_READ_* macros'
// linear-cursor style in readlog.c).
type scanner struct {
	fields []string
	pos    int
	err    error
}

func newScanner(fields []string) *scanner { return &scanner{fields: fields} }

func (s *scanner) next() string {
	if s.pos >= len(s.fields) {
		s.err = io.ErrUnexpectedEOF
		return "0"
	}
	v := s.fields[s.pos]
	s.pos++
	return v
}

func (s *scanner) float() float64 {
	v, err := strconv.ParseFloat(s.next(), 64)
	if err != nil && s.err == nil {
		s.err = err
	}
	return v
}

func (s *scanner) int() int {
	v, err := strconv.Atoi(s.next())
	if err != nil && s.err == nil {
		s.err = err
	}
	return v
}

func (s *scanner) rest() string {
	if s.pos >= len(s.fields) {
		return ""
	}
	v := strings.Join(s.fields[s.pos:], " ")
	s.pos = len(s.fields)
	return v
}

func f(v interface{}) string {
	switch x := v.(type) {
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func writeFields(b *strings.Builder, fields ...string) {
	for _, field := range fields {
		b.WriteByte(' ')
		b.WriteString(field)
	}
}

// Index maps each decoded record to its byte offset in the underlying
// stream, built by a single forward scan (spec.md section 6). RunID
// stamps which playback run produced this index, so successive runs
// against the same log/map pair remain distinguishable.
type Index struct {
	RunID   string
	Offsets []int64
	Tags    []Tag
}

// NewRunID generates a fresh run identifier for stamping an Index or a
// NavigatorStatus.
func NewRunID() string {
	return uuid.NewString()
}

// OpenReader wraps r with transparent gzip decompression if the stream
// starts with a gzip magic header.
func OpenReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("logfile: peek: %w", err)
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("logfile: gzip: %w", err)
		}
		return gz, nil
	}
	return br, nil
}

// BuildIndex scans r line by line, recording each record's tag and the byte
// offset its line started at.
func BuildIndex(r io.Reader) (*Index, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	idx := &Index{RunID: NewRunID()}
	var offset int64
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			idx.Offsets = append(idx.Offsets, offset)
			idx.Tags = append(idx.Tags, Tag(strings.Fields(trimmed)[0]))
		}
		offset += int64(len(line)) + 1
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("logfile: scan: %w", err)
	}
	return idx, nil
}
