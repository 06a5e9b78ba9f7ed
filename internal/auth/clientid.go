package auth

import (
	"bytes"
	"log/slog"
	"net"
	"os"

	"github.com/google/uuid"
)

// ClientID returns the identity the collection service issues tokens for:
// override if set, else the first non-loopback hardware address, else a
// stable name-based UUID derived from the hostname.
func ClientID(override string) string {
	return clientID(override, net.Interfaces, os.Hostname)
}

func clientID(override string, interfaces func() ([]net.Interface, error), hostname func() (string, error)) string {
	if override != "" {
		return override
	}

	ifaces, err := interfaces()
	if err != nil {
		slog.Warn("listing network interfaces", "error", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		if bytes.Equal(iface.HardwareAddr, make([]byte, len(iface.HardwareAddr))) {
			continue
		}
		return iface.HardwareAddr.String()
	}

	host, err := hostname()
	if err != nil || host == "" {
		slog.Warn("no hardware address or hostname, using fixed client id", "error", err)
		host = "localhost"
	}
	id := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(host)).String()
	slog.Info("no hardware address found, derived client id from hostname", "hostname", host, "client_id", id)
	return id
}
