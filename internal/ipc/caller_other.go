//go:build !windows

package ipc

import "fmt"

// NewCallerResolver returns the platform caller resolver.
func NewCallerResolver() CallerResolver {
	return &OtherCallerResolver{}
}

// OtherCallerResolver always denies: there is no non-Windows caller model
// for this agent, and fail-closed is the only safe default (spec.md §6).
type OtherCallerResolver struct{}

func (r *OtherCallerResolver) Resolve(processID uint32) (CallerInfo, error) {
	return CallerInfo{ProcessID: processID}, fmt.Errorf("caller resolution is only supported on Windows")
}
