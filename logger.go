// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"log"

	"go.uber.org/zap"
)

// Logger defines an interface that implementers can use to redirect
// logging into their own application.
type Logger interface {
	Printf(format string, v ...interface{})
}

// stdLogger implements the Logger interface by wrapping the Go log package.
type stdLogger struct{}

func (stdLogger) Printf(format string, v ...interface{}) {
	log.Printf(format, v...)
}

// ZapLogger returns a Logger that writes info level entries to l.
func ZapLogger(l *zap.Logger) Logger {
	return zapLogger{l.Sugar()}
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Printf(format string, v ...interface{}) {
	l.s.Infof(format, v...)
}
