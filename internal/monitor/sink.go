// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

// Sink receives every record once its session is finalised
type Sink interface {
	Write(rec *Record) error
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(rec *Record) error

func (f SinkFunc) Write(rec *Record) error {
	return f(rec)
}
