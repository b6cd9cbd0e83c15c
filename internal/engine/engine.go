// Package engine defines the boundary to the external tunnel engine. The
// engine itself is an opaque dependency: the supervisor only constructs
// handles, starts them and closes them. All routing, protocol and DNS logic
// lives behind this boundary.
package engine

import "context"

// Handle is one running instance of the external tunnel engine. At most one
// live handle exists process-wide; the supervisor owns it exclusively.
type Handle interface {
	Start() error
	Close() error
}

// Factory constructs engine handles from raw profile content plus the
// platform capability set the engine calls back into.
type Factory interface {
	New(ctx context.Context, configContent string, platform Platform) (Handle, error)
}

// Platform is the capability object handed to the engine for OS-level network
// plumbing. Its shape follows the engine's fixed external contract.
type Platform interface {
	// OpenTun acquires a tunnel device and returns its file descriptor.
	// Ownership of the descriptor stays with the caller's resource guard.
	OpenTun(options TunOptions) (int, error)

	// ProtectSocket excludes the given socket from the tunnel so engine
	// egress traffic is not routed back into itself.
	ProtectSocket(fd int) error

	// DefaultInterface reports the current default network interface.
	DefaultInterface() (NetworkInterface, error)

	// LookupDNS resolves a hostname on the engine's behalf, outside the
	// tunnel, so bootstrap queries cannot loop back into it.
	LookupDNS(ctx context.Context, network, host string) ([]string, error)

	// WriteLog receives engine log output line by line.
	WriteLog(message string)

	// SendNotification posts a user-facing notification.
	SendNotification(notification Notification) error
}

// TunOptions describe the tunnel device requested by the engine.
type TunOptions struct {
	MTU         uint32
	Addresses   []string
	AutoRoute   bool
	StrictRoute bool
	DNSServers  []string
	SessionName string
}

// NetworkInterface describes the host's default network interface.
type NetworkInterface struct {
	Name        string
	Index       int
	Expensive   bool
	Constrained bool
}

// Notification is a user-facing message posted through the platform.
type Notification struct {
	Identifier string
	Title      string
	Body       string
}
