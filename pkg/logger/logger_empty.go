// +build logless

package logger

// Log is a no-op logger for size-constrained builds (go build -tags
// logless), mirroring the teacher's pkg/core/logger EmptyLog shape but
// covering only the chain navcore's components actually call.
var Log = EmptyLog{}

type EmptyLog struct{}

func (l EmptyLog) Debug() EmptyLog { return l }
func (l EmptyLog) Error() EmptyLog { return l }
func (l EmptyLog) Warn() EmptyLog  { return l }
func (l EmptyLog) Info() EmptyLog  { return l }

func (l EmptyLog) Msg(string)  {}
func (l EmptyLog) Err(error) EmptyLog { return l }

func (l EmptyLog) Int(string, int) EmptyLog    { return l }
func (l EmptyLog) Str(string, string) EmptyLog { return l }
func (l EmptyLog) Bool(string, bool) EmptyLog  { return l }
func (l EmptyLog) Float64(string, float64) EmptyLog { return l }
