// Package harness runs scripted scenarios against the executive.
//
// A scenario loads one plan, plays a script of external events through a
// ScriptAdapter and checks the final node states. The adapter stands in
// for the real world: it records every command, function call and update
// the executive sends and answers them only when the script says so.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: command_round_trip
//	description: "A command finishes once its handle arrives"
//	plan: plans/drive.yaml
//	libraries: []
//	start_time: 0
//	adapter:
//	  lookups:
//	    - { state: Battery, value: 80 }
//	  commands:
//	    - { name: beep, handle: COMMAND_SUCCESS }
//	  functions:
//	    - { name: distance, result: 4.5 }
//	  ack_updates: true
//	script:
//	  - time: 1
//	    command_return: { name: drive, value: 7 }
//	  - command_ack: { name: drive, handle: COMMAND_SUCCESS }
//	  - lookup: { state: At, args: [Rock], value: true }
//	  - function_return: { name: sample, value: 3.5 }
//	  - update_ack: { node: Report }
//	expect:
//	  - node: Drive
//	    state: FINISHED
//	    outcome: SUCCESS
//	    variables: { result: 7 }
//	assertions:
//	  - type: trace_contains
//	    line: "command drive(3)"
//	  - type: trace_order
//	    lines: ["Drive INACTIVE->WAITING", "Drive ITERATION_ENDED->FINISHED"]
//	  - type: trace_count
//	    line: "command drive(3)"
//	    count: 1
//
// # Ticks
//
// Tick 0 queues the libraries and the plan and steps until quiescent.
// Every script event is one more tick: its fields are applied in the order
// time, lookup, command_return, command_ack, function_return, update_ack,
// and the executive steps until quiescent again.
//
// # Deterministic Testing
//
// Every run uses a manual clock that only moves on time events and a
// fixed run ID, so the trace of a scenario is the same on every run and
// can be compared against a golden file with RunWithGolden.
package harness
