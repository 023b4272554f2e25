// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package runtime gives the base station's receive loop real-time
// scheduling priority, adapted from the teacher's thread package: missing
// a slot's short timeout because the Go scheduler ran something else first
// would mean losing data a node already transmitted: a slot that closes
// gets no second chance.
package runtime

import (
	"runtime"
	"syscall"
	"unsafe"
)

// schedRR is the round-robin real-time scheduling policy (SCHED_RR).
const schedRR = 2

type schedParam struct {
	priority int
}

// Realtime pins the calling goroutine to its own OS thread and raises that
// thread to real-time round-robin scheduling at a fixed priority. Call it
// once, from the goroutine that will run the receive loop, before Start.
func Realtime() error {
	runtime.LockOSThread()
	tid := syscall.Gettid()
	res, _, err := syscall.RawSyscall(syscall.SYS_SCHED_SETSCHEDULER, uintptr(tid),
		uintptr(schedRR), uintptr(unsafe.Pointer(&schedParam{priority: 10})))
	if res == 0 {
		return nil
	}
	return err
}
