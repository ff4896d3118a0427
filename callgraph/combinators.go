package callgraph

// Then adds c to the non-data (ordering-only) dependencies of each
// callee and returns the callee(s): the single callee if exactly one was
// given, the group otherwise. The identity case, Then() with no callees,
// returns c unchanged — matching common.py's NodeCall.then overloads.
func (c *NodeCall[Result]) Then(callees ...Caller) any {
	if len(callees) == 0 {
		return c
	}
	for _, callee := range callees {
		callee.record().addDependency(c.callRecord)
	}
	if len(callees) == 1 {
		return callees[0]
	}
	return Calls(callees)
}

// Then on a group adds every member of cs as a non-data dependency of
// each callee, matching common.py's NodeCalls.then.
func (cs Calls) Then(callees ...Caller) any {
	if len(callees) == 0 {
		return cs
	}
	for _, parent := range cs {
		for _, callee := range callees {
			callee.record().addDependency(parent.record())
		}
	}
	if len(callees) == 1 {
		return callees[0]
	}
	return Calls(callees)
}

// Group wraps independent calls so they can be passed as a single
// positional-tuple argument: each member becomes a data dependency at
// the field it's assigned to, and the dependent's argument tuple is
// populated with each member's result, in order. Matches common.py's
// module-level group().
func Group(calls ...Caller) Calls {
	return Calls(calls)
}

// Pause is the sentinel a handler returns to suspend its node until an
// external Resume or session cancellation. It is only valid as the
// terminal return value of a handler indicating a pause; returning it
// from any other position is undefined and should be rejected at the
// handler boundary.
type Pause[T any] struct{}

// PauseFor constructs the pause marker for handlers whose eventual
// resumed value has type T.
func PauseFor[T any]() Pause[T] { return Pause[T]{} }
