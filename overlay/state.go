// Copyright (C) 2022 K2 Cyber Security Inc.

package overlay

import "fmt"

// Policy decides what a fingerprint mismatch does to a module instance.
type Policy int

const (
	// PolicyDefer leaves the instance eligible for a later check, for hosts that
	// load dxgi.dll before discovery has finished elsewhere.
	PolicyDefer Policy = iota
	// PolicyStrict gives up on the instance for the life of the session.
	PolicyStrict
)

func (p Policy) String() string {
	switch p {
	case PolicyDefer:
		return "defer"
	case PolicyStrict:
		return "strict"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts the names String returns.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "defer":
		return PolicyDefer, nil
	case "strict":
		return PolicyStrict, nil
	}
	return 0, fmt.Errorf("unknown policy %q", s)
}

// State is where a session is in installing its hooks.
//
//	Idle -> Checking -> Hooked
//	        Checking -> Idle
type State int32

const (
	StateIdle State = iota
	StateChecking
	StateHooked
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateHooked:
		return "hooked"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}
