package hfp

import "time"

// scoScheduler owns the two deferred actions of the profile: the dial-request
// timeout and the busy-tone SCO teardown. Both are one-shot timers that
// re-enter the manager loop as events; cancellation is implicit, via the
// guard flags the events re-validate, never via explicit timer cancellation.
type scoScheduler struct {
	dialTimeout      time.Duration
	busyToneInterval time.Duration
	post             func(ev managerEvent)
}

// armDialTimeout schedules the error response for a dial request the dialer
// never answered. Whichever of the timeout and the Dialing call-state event
// fires first wins; the loser is a no-op against the processed flag.
func (s *scoScheduler) armDialTimeout() {
	time.AfterFunc(s.dialTimeout, func() {
		s.post(evDialTimeout{})
	})
}

// armBusyTeardown schedules the deferred SCO disconnect after a BusyError
// call end. The delay covers the whole busy tone the dialer plays through
// the still-open audio link; the teardown itself re-checks that audio is
// still up when it fires.
func (s *scoScheduler) armBusyTeardown() {
	time.AfterFunc(s.busyToneInterval, func() {
		s.post(evScoTeardown{})
	})
}
