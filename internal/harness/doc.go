// Package harness runs converge scenarios as executable contract tests.
//
// A scenario compiles a declaration set, seeds an instance with a state and
// commits transactions against it, checking each converge decision.
//
// # Scenario Format
//
//	name: cart_rows
//	description: "Only the touched row recomputes"
//	cue: |
//	  traits: {
//	    items: list: {trackBy: "id", item: computed: total: {deps: ["price", "qty"], derive: "product"}}
//	    cartTotal: computed: {deps: ["items[].total"], derive: "sum"}
//	  }
//	state:
//	  items: [{id: x, price: 2, qty: 1, total: 2}]
//	  cartTotal: 2
//	transactions:
//	  - name: raise qty
//	    writes:
//	      - {path: "items[0].qty", value: 3}
//	    expect:
//	      outcome: Converged
//	      changed: 2
//	      values: {"items[0].total": 6, cartTotal: 6}
//
// spec may replace cue with a directory holding a CUE package; relative
// paths resolve against the scenario file. A transaction may instead set
// mark_all, or tick: true to run due deferred steps; advance_ms moves the
// clock first.
//
// # Deterministic Testing
//
// Scenarios run on a FakeClock that only moves through advance_ms and the
// harness-only "delay" derive function. Instance and transaction ids are
// counters, and decisions go through an in-memory SQLite store before they
// are reported, so a run can be compared byte for byte against a golden
// file.
package harness
