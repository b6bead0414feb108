/*
Package runner supervises one workload's child process lifecycle.

	Start() ──▶ supervise() loop:
	  build argv ──▶ wrap with rlimits ──▶ exec ──▶ wait (bounded by timeout)
	      │                                              │
	      └──────────────── record run ◀──────────────────┘
	                           │
	          strategy.IsComplete? ──yes──▶ completed, exit loop
	                           │no
	          strategy.ShouldRestart? ──no──▶ exit loop
	                           │yes
	                    sleep restart_delay, repeat

Stop() signals the child, waits up to a timeout, escalates to Kill, then
waits for the loop goroutine to observe stopRequested and exit.
*/
package runner
