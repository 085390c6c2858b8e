// Package hostsys gives an emulator precise control over host virtual memory.
//
// It reserves, protects and releases page-aligned ranges, creates shareable
// memory objects and maps views of them, and carves fixed windows of one
// reserved range into views through SharedMemoryMappingArea.
//
// Sizes must be multiples of PageSize. A misaligned size is a programming
// error and panics. Every other failure is returned as an error that matches
// one of the package sentinels through errors.Is. On hosts without page-level
// control every operation fails with ErrUnsupported and callers are expected
// to fall back to private memory or an interpreter.
//
// Thread and semaphore primitives live in package threading. Fault
// interception lives in package fault.
package hostsys
