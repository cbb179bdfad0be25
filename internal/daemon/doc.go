// Package daemon assembles the recovery daemon from configuration: the I/O
// scheduler, one state machine engine and monitor per configured monitor, the
// monitor manager, the task scheduler and the focus coordinator. Run holds a
// single-instance lock for the lifetime of the process.
package daemon
