// Package lua provides the sandboxed Lua runtime that study plugins
// execute in. Each study gets its own State with a closed set of
// injected bindings: the chart drawing factories, the clock module,
// and a handful of utility functions. Nothing else from the host or
// the Lua standard library beyond base/table/string/math is reachable
// from evaluated code.
package lua
