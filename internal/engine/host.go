package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
)

// HostPlatform is the Platform used when the daemon runs standalone,
// without an embedding app providing capabilities. The external engine
// manages its own TUN device in this mode.
type HostPlatform struct {
	logger *slog.Logger
}

func NewHostPlatform(logger *slog.Logger) *HostPlatform {
	if logger == nil {
		logger = slog.Default()
	}
	return &HostPlatform{logger: logger.With("component", "engine")}
}

func (p *HostPlatform) OpenTun(TunOptions) (int, error) {
	return 0, fmt.Errorf("tun devices are managed by the engine process")
}

func (p *HostPlatform) ProtectSocket(int) error { return nil }

// DefaultInterface reports the first non-loopback interface that is up.
func (p *HostPlatform) DefaultInterface() (NetworkInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return NetworkInterface{}, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		return NetworkInterface{Index: iface.Index, Name: iface.Name}, nil
	}
	return NetworkInterface{}, fmt.Errorf("no active network interface found")
}

// LookupDNS resolves through the host's stock resolver, which is never
// routed into the tunnel.
func (p *HostPlatform) LookupDNS(ctx context.Context, network, host string) ([]string, error) {
	addrs, err := net.DefaultResolver.LookupIP(ctx, network, host)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.String())
	}
	return out, nil
}

func (p *HostPlatform) WriteLog(message string) {
	p.logger.Info(message)
}

func (p *HostPlatform) SendNotification(n Notification) error {
	p.logger.Info("notification", "title", n.Title, "body", n.Body)
	return nil
}
