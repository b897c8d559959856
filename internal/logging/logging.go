/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package logging

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the handle every component receives at construction.
type Logger interface {
	logrus.FieldLogger
}

type Setter func(*logrus.Logger) error

// New builds a root logger. Entries are written synchronously, so there is
// nothing to flush on shutdown.
func New(setters ...Setter) (*logrus.Logger, error) {
	root := logrus.New()
	root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	for _, setter := range setters {
		if err := setter(root); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// Component derives a logger tagged with the component name.
func Component(root logrus.FieldLogger, component string) Logger {
	return root.WithField("component", component)
}

// Discard returns a logger that drops everything, for tests and defaults.
func Discard() Logger {
	root := logrus.New()
	root.SetOutput(io.Discard)
	return root
}

func Level(lvl string) Setter {
	return func(r *logrus.Logger) error {
		l, err := logrus.ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("unable to parse provided level %q: %w", lvl, err)
		}
		r.SetLevel(l)
		return nil
	}
}

// NumericLevel maps the config scale 0 (trace) .. 5 (fatal) onto logrus.
func NumericLevel(n int) Setter {
	return func(r *logrus.Logger) error {
		levels := []logrus.Level{
			logrus.TraceLevel,
			logrus.DebugLevel,
			logrus.InfoLevel,
			logrus.WarnLevel,
			logrus.ErrorLevel,
			logrus.FatalLevel,
		}
		if n < 0 || n >= len(levels) {
			return fmt.Errorf("log level %d out of range 0..%d", n, len(levels)-1)
		}
		r.SetLevel(levels[n])
		return nil
	}
}

func Output(w io.Writer) Setter {
	return func(r *logrus.Logger) error {
		r.SetOutput(w)
		return nil
	}
}
