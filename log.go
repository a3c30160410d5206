// The MIT License
//
// Copyright (c) 2025-2026 by the author(s)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//
// Description:
//
// Logging facility.

package goohci1394

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// log levels
const (
	LOG_DEBUG int = iota
	LOG_INFO
	LOG_WARN
	LOG_ERR
)

var (
	logger         *zap.SugaredLogger
	logOnce        sync.Once
	logIndentLevel uint
	logLevel       = LOG_INFO
)

// logInit builds the default production logger. It is invoked lazily on the
// first log call, so applications that install their own logger via
// LogSetLogger never pay for it.
func logInit() {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		// zap only fails on a broken config, fall back to a no-op logger
		l = zap.NewNop()
	}
	logger = l.Sugar()
}

// Log prints out a log message with a specifiable log level.
func Log(level int, msg string, a ...interface{}) {
	if level < logLevel {
		// do not print out log message if criticality is below the one
		// specified by the user
		return
	}

	logOnce.Do(logInit)

	for i := uint(0); i < logIndentLevel; i++ {
		msg = "... " + msg
	}

	switch level {
	case LOG_DEBUG:
		logger.Debugf(msg, a...)
	case LOG_INFO:
		logger.Infof(msg, a...)
	case LOG_WARN:
		logger.Warnf(msg, a...)
	case LOG_ERR:
		logger.Errorf(msg, a...)
	default:
		logger.Errorf("invalid log level %d: %s", level, fmt.Sprintf(msg, a...))
	}
}

// LogSetLogger replaces the package logger. Pass the result of zap.New or a
// test logger; the previous logger is not flushed.
func LogSetLogger(l *zap.Logger) {
	logOnce.Do(func() {})
	logger = l.Sugar()
}

// LogIncrementIndentLevel increments the indentation level of all further log
// messages.
func LogIncrementIndentLevel() {
	logIndentLevel++
}

// LogDecrementIndentLevel decrements the indentation level of all further log
// messages.
func LogDecrementIndentLevel() {
	if logIndentLevel == 0 {
		Log(LOG_WARN, "logIndentLevel reached negative value. Check your code!")
		return
	}
	logIndentLevel--
}

// LogSetLevel sets the minimum criticality of the messages that are actually
// printed. Log messages below the criticality level are ignored.
func LogSetLevel(level int) {
	if level < LOG_DEBUG || level > LOG_ERR {
		Log(LOG_WARN, "invalid log level %d", level)
		return
	}
	logLevel = level
}
