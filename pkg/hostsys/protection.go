package hostsys

import "github.com/srediag/hostsys/internal/vm"

// PageProtectionMode is the access allowed on a range of pages.
// The zero value is reserved-but-inaccessible, which is a valid mode.
type PageProtectionMode uint8

const (
	protRead PageProtectionMode = 1 << iota
	protWrite
	protExec
)

// Common modes.
const (
	ModeNone             PageProtectionMode = 0
	ModeRead                                = protRead
	ModeReadWrite                           = protRead | protWrite
	ModeExecute                             = protExec
	ModeReadExecute                         = protRead | protExec
	ModeReadWriteExecute                    = protRead | protWrite | protExec
)

// Read returns m with read access added.
func (m PageProtectionMode) Read() PageProtectionMode { return m | protRead }

// Write returns m with write access added.
func (m PageProtectionMode) Write() PageProtectionMode { return m | protWrite }

// Execute returns m with execute access added.
func (m PageProtectionMode) Execute() PageProtectionMode { return m | protExec }

func (m PageProtectionMode) IsNone() bool       { return m == 0 }
func (m PageProtectionMode) IsReadable() bool   { return m&protRead != 0 }
func (m PageProtectionMode) IsWritable() bool   { return m&protWrite != 0 }
func (m PageProtectionMode) IsExecutable() bool { return m&protExec != 0 }

// String renders the mode as "rwx" with '-' for missing access.
func (m PageProtectionMode) String() string {
	b := []byte("---")
	if m.IsReadable() {
		b[0] = 'r'
	}
	if m.IsWritable() {
		b[1] = 'w'
	}
	if m.IsExecutable() {
		b[2] = 'x'
	}
	return string(b)
}

func (m PageProtectionMode) prot() vm.Prot {
	var p vm.Prot
	if m.IsReadable() {
		p |= vm.ProtRead
	}
	if m.IsWritable() {
		p |= vm.ProtWrite
	}
	if m.IsExecutable() {
		p |= vm.ProtExec
	}
	return p
}
