// Package check implements observational assertions on HTTP responses.
//
// A failing check is recorded and reported; it never aborts an iteration.
package check

import (
	"time"
)

// Response is the part of an HTTP response checks inspect.
type Response struct {
	Status   int
	Duration time.Duration
	Body     []byte
	Err      error
}

// Func evaluates one condition against a response.
type Func func(Response) bool

// Check is a named condition.
type Check struct {
	Name string
	Fn   Func
}

// Recorder receives check outcomes.
type Recorder interface {
	RecordCheck(name string, ok bool)
}

// Run evaluates every check against resp, records each outcome on rec and
// reports whether all of them passed.
func Run(rec Recorder, resp Response, checks ...Check) bool {
	all := true
	for _, c := range checks {
		ok := c.Fn(resp)
		if rec != nil {
			rec.RecordCheck(c.Name, ok)
		}
		all = all && ok
	}
	return all
}

// StatusIs passes when the response status is one of codes.
func StatusIs(codes ...int) Func {
	return func(r Response) bool {
		if r.Err != nil {
			return false
		}
		for _, c := range codes {
			if r.Status == c {
				return true
			}
		}
		return false
	}
}

// DurationBelow passes when the request completed in less than limit.
func DurationBelow(limit time.Duration) Func {
	return func(r Response) bool {
		return r.Err == nil && r.Duration < limit
	}
}

// All passes when every fn passes.
func All(fns ...Func) Func {
	return func(r Response) bool {
		for _, fn := range fns {
			if !fn(r) {
				return false
			}
		}
		return true
	}
}
