package arp

import (
	"bufio"
	"io"
	"net"
	"os"
	"strings"
)

// KernelEntry is one row parsed from the kernel's ARP table.
type KernelEntry struct {
	IP        net.IP
	MAC       net.HardwareAddr
	Interface string
}

// ReadKernelTable parses /proc/net/arp for a warm-start snapshot of
// already-resolved neighbors, skipping incomplete entries (null MAC).
func ReadKernelTable() ([]KernelEntry, error) {
	f, err := os.Open("/proc/net/arp")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseKernelTable(f)
}

// parseKernelTable parses the /proc/net/arp text format from r, factored
// out of ReadKernelTable so it can be exercised without a real /proc
// filesystem.
func parseKernelTable(r io.Reader) ([]KernelEntry, error) {
	var entries []KernelEntry
	scanner := bufio.NewScanner(r)
	scanner.Scan() // header line

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		macStr := fields[3]
		if macStr == "00:00:00:00:00:00" || len(macStr) != 17 {
			continue
		}
		ip := net.ParseIP(fields[0])
		if ip == nil {
			continue
		}
		mac, err := net.ParseMAC(macStr)
		if err != nil {
			continue
		}
		entries = append(entries, KernelEntry{IP: ip, MAC: mac, Interface: fields[5]})
	}
	return entries, scanner.Err()
}
