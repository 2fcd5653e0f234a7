package repository

import "fmt"

// BatchError reports a batch that failed part way. Items before Index were
// applied and stay applied; nothing is rolled back.
type BatchError struct {
	Op        string
	Index     int // position of the failing item
	Completed int // number of items applied before the failure
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s: item %d failed after %d applied: %v", e.Op, e.Index, e.Completed, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
