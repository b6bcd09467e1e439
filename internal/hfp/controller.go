package hfp

import "errors"

// Errors reported to callers of Connect/Disconnect.
var (
	// ErrNoResource means the transport is unavailable or shutdown is in
	// progress; the request was never attempted.
	ErrNoResource = errors.New("hfp: no available resource")

	// ErrConnectionFailed means the transport rejected the operation or the
	// outgoing connection attempt never reached the SLC.
	ErrConnectionFailed = errors.New("hfp: connection failed")

	// ErrOperationPending means a Connect or Disconnect is already in
	// flight. Overlapping profile operations are a programming error on the
	// caller's side, not a runtime condition to retry.
	ErrOperationPending = errors.New("hfp: profile operation already pending")
)

// opKind labels the pending profile operation for logging.
type opKind int

const (
	opConnect opKind = iota
	opDisconnect
)

func (k opKind) String() string {
	if k == opDisconnect {
		return "disconnect"
	}
	return "connect"
}

// pendingOp tracks the single in-flight outbound Connect or Disconnect.
// Completion is delivered exactly once on done (buffered, never blocks).
type pendingOp struct {
	kind opKind
	done chan error
}

func newPendingOp(kind opKind) *pendingOp {
	return &pendingOp{kind: kind, done: make(chan error, 1)}
}

// complete reports the operation result. Safe to call on a nil receiver so
// the manager can complete whatever is pending without a guard at each site.
func (op *pendingOp) complete(err error) {
	if op == nil {
		return
	}
	op.done <- err
}
