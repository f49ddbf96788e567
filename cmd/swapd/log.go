package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem tags, one per package that does meaningful work, following
// lnd.go's convention of a short all-caps tag per subsystem logger
// (ltndLog, srvrLog, rpcsLog, ...).
const (
	subsystemSwapExec = "SWAP"
	subsystemSwapDB   = "STOR"
	subsystemRespawn  = "RESP"
	subsystemHTLC     = "HTLC"
	subsystemSieve    = "SIEV"
	subsystemMain     = "SWPD"
)

var (
	backendLog *btclog.Backend
	logRotator *rotator.Rotator

	swapdLog   btclog.Logger
	execLog    btclog.Logger
	storeLog   btclog.Logger
	respawnLog btclog.Logger
)

// initLogRotator opens the rotating log file under logDir the way
// lnd.go's initLogRotator does, writing both to stdout and to the file
// through a single io.Writer fan-out backend.
func initLogRotator(logDir, logFilename string) error {
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return err
	}

	r, err := rotator.New(filepath.Join(logDir, logFilename), 10*1024, false, 3)
	if err != nil {
		return err
	}
	logRotator = r

	backendLog = btclog.NewBackend(logWriter{})
	swapdLog = backendLog.Logger(subsystemMain)
	execLog = backendLog.Logger(subsystemSwapExec)
	storeLog = backendLog.Logger(subsystemSwapDB)
	respawnLog = backendLog.Logger(subsystemRespawn)

	return nil
}

// logWriter fans every write out to stdout and the rotator, the same
// dual-sink approach lnd.go's logWriter takes.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// setLogLevels applies debugLevel (either a single level for every
// subsystem, or a comma-separated list of subsystem=level pairs) the way
// lnd.go's setLogLevels does.
func setLogLevels(debugLevel string) {
	if backendLog == nil {
		return
	}
	level, ok := btclog.LevelFromString(debugLevel)
	if ok {
		for _, l := range []btclog.Logger{swapdLog, execLog, storeLog, respawnLog} {
			l.SetLevel(level)
		}
		return
	}
	loggers := map[string]btclog.Logger{subsystemMain: swapdLog, subsystemSwapExec: execLog,
		subsystemSwapDB: storeLog, subsystemRespawn: respawnLog}
	for _, pair := range strings.Split(debugLevel, ",") {
		tag, name, _ := strings.Cut(pair, "=")
		if l, known := loggers[strings.TrimSpace(tag)]; known {
			if level, ok := btclog.LevelFromString(strings.TrimSpace(name)); ok {
				l.SetLevel(level)
			}
		}
	}
}
