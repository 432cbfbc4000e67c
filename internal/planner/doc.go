// Package planner handles the planning phase of update-like requests.
//
// The planner compares what the client reported having against the tree of
// the target revision and produces a Plan: the tree edits that bring the
// client to the target, honoring depth limits and reusing copy-from history
// where the client already holds the copy source.
//
// Key responsibilities:
//   - Walk source and target trees top-down in lexicographic child order
//   - Skip identical subtrees in O(1) using directory content ids
//   - Apply depth policy (narrower of requested and reported depth wins)
//   - Emit Add-with-copy-from plus a small delta when history allows
//   - Read every text delta up front so storage errors surface before any
//     edit is sent
//
// Plans are trees: a directory node owns its ordered children, so open and
// close bracketing holds by construction. Operations flattens the tree only
// when the plan is emitted.
package planner
