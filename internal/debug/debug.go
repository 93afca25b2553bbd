package debug

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (run summary, best trial)
	LevelLive    = 2 // Live info (moves, trials, duty changes)
	LevelVerbose = 3 // Verbose (kinematics, sampling details)
	LevelTrace   = 4 // Trace (serial lines, GPIO, very low level)
)

var (
	level  int
	logger = newLogger()
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000000",
	})
	l.SetLevel(logrus.WarnLevel)
	return l
}

// Init initializes the debug system with a level (0-4).
// 0 = no output apart from warnings and errors
// 1 = important info (levelling summary, best result)
// 2 = live info (motor moves, trials, duty changes)
// 3 = verbose (kinematics, sampling, optimizer details)
// 4 = trace (serial lines, GPIO, very low level)
func Init(debugLevel int) {
	level = debugLevel
	switch {
	case level >= LevelTrace:
		logger.SetLevel(logrus.TraceLevel)
	case level >= LevelVerbose:
		logger.SetLevel(logrus.DebugLevel)
	case level >= LevelInfo:
		logger.SetLevel(logrus.InfoLevel)
	default:
		logger.SetLevel(logrus.WarnLevel)
	}
}

// SetOutput redirects log output (e.g. to the web status broadcaster).
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Logger exposes the underlying logrus logger, e.g. to back a log.Logger.
func Logger() *logrus.Logger {
	return logger
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo {
		logger.Infof(format, args...)
	}
}

// Summary prints an important summary banner (level 1).
func Summary(title string) {
	if level >= LevelInfo {
		logger.Info("═══════════════════════════════════════")
		logger.Infof("  %s", title)
		logger.Info("═══════════════════════════════════════")
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo {
		logger.WithField(name, value).Info("value")
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive {
		logger.WithField("live", true).Infof(format, args...)
	}
}

// Move prints a single motor movement (level 2).
func Move(motor int, steps int) {
	if level >= LevelLive {
		logger.WithFields(logrus.Fields{"motor": motor, "steps": steps}).Info("motor move")
	}
}

// Trial prints one optimizer iteration (level 2).
func Trial(iteration, x, y int, cost, fluctuation float64, batch int) {
	if level >= LevelLive {
		logger.WithFields(logrus.Fields{
			"iteration":   iteration,
			"motor_x":     x,
			"motor_y":     y,
			"cost":        cost,
			"fluctuation": fluctuation,
			"batch":       batch,
		}).Info("trial")
	}
}

// Duty prints a duty cycle change (level 2).
func Duty(value int, record bool) {
	if level >= LevelLive {
		logger.WithFields(logrus.Fields{"duty": value, "record": record}).Info("duty set")
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose {
		logger.Debugf(format, args...)
	}
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose {
		logger.Debugf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose {
		logger.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Debugf("  %s", name)
		logger.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose {
		logger.Debugf("Step %d: %s", num, description)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace {
		logger.Tracef(format, args...)
	}
}

// Serial prints a serial line exchange (level 4).
func Serial(direction, port, line string) {
	if level >= LevelTrace {
		logger.WithFields(logrus.Fields{"dir": direction, "port": port}).Tracef("%q", line)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace {
		logger.WithFields(logrus.Fields{"op": operation, "pin": pin}).Tracef("value=%v", value)
	}
}

// --- General functions ---

// Warn prints a warning regardless of level. Used for recoverable
// conditions such as timing violations or missing persisted settings.
func Warn(format string, args ...interface{}) {
	logger.Warnf(format, args...)
}

// Error prints an error regardless of level.
func Error(err error) {
	if err != nil {
		logger.Error(err)
	}
}
