package log

import (
	"time"
)

type Output interface {
	Write(stamp time.Time, debug bool, msg string)
	Close() error
}

type multiOut struct {
	outs []Output
}

func (m multiOut) Write(stamp time.Time, debug bool, msg string) {
	for _, out := range m.outs {
		out.Write(stamp, debug, msg)
	}
}

func (m multiOut) Close() error {
	for _, out := range m.outs {
		if err := out.Close(); err != nil {
			return err
		}
	}
	return nil
}

func MultiOutput(outputs ...Output) Output {
	return multiOut{outputs}
}

type funcOut struct {
	out   func(time.Time, bool, string)
	close func() error
}

func (f funcOut) Write(stamp time.Time, debug bool, msg string) {
	f.out(stamp, debug, msg)
}

func (f funcOut) Close() error {
	return f.close()
}

func FuncOutput(f func(time.Time, bool, string), close func() error) Output {
	return funcOut{f, close}
}

// countingOut wraps another Output, invoking onWrite after every message
// inner has written. It does not alter formatting or delivery of the
// message itself, only observes it.
type countingOut struct {
	inner   Output
	onWrite func(debug bool)
}

func (c countingOut) Write(stamp time.Time, debug bool, msg string) {
	c.inner.Write(stamp, debug, msg)
	if c.onWrite != nil {
		c.onWrite(debug)
	}
}

func (c countingOut) Close() error {
	return c.inner.Close()
}

// CountingOutput wraps inner so every write also calls onWrite, reporting
// whether the line was a debug line. encimapd uses this to feed log
// volume into its metrics.Collector (see cmd/encimapd's newLogger)
// without the Output implementations themselves needing to know about
// metrics.
func CountingOutput(inner Output, onWrite func(debug bool)) Output {
	return countingOut{inner, onWrite}
}
