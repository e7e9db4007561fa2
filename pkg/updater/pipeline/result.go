package pipeline

import "fmt"

// action is the internal tag of a Result.
type action int

const (
	actContinue action = iota
	actStop
	actError
)

// Result is the explicit three-way outcome of one handler invocation.
// Handlers never signal control flow by panicking; they return a Result.
type Result struct {
	act action
	err error
}

// Continue proceeds to the next applicable handler.
func Continue() Result { return Result{act: actContinue} }

// Stop aborts the remaining handlers for this event. The delivery is
// considered fully handled. Stop is intentional control flow, not an error.
func Stop() Result { return Result{act: actStop} }

// Fail reports a handler failure. The error is routed through the exception
// routes and the pipeline proceeds to the next handler: one handler's
// failure does not stop its siblings for the same event. A nil err is
// equivalent to Continue.
func Fail(err error) Result {
	if err == nil {
		return Continue()
	}
	return Result{act: actError, err: err}
}

// Err returns the failure carried by the result, if any.
func (r Result) Err() error { return r.err }

// Stopped reports whether the result short-circuits the pipeline.
func (r Result) Stopped() bool { return r.act == actStop }

func (r Result) String() string {
	switch r.act {
	case actStop:
		return "stop"
	case actError:
		return fmt.Sprintf("error(%v)", r.err)
	default:
		return "continue"
	}
}
