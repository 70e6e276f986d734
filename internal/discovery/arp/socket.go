// Package arp implements a raw link-layer ARP prober: broadcast and
// targeted request sends over AF_PACKET, and a decoder for the replies
// (and other hosts' requests) that arrive on the same socket.
//
// Grounded on the teacher's raw AF_PACKET listeners (dhcp_sniffer.go,
// network/lldp/lldp.go), which use github.com/mdlayher/packet the same
// way: packet.Listen on an interface and ethertype, then ReadFrom/WriteTo
// on the returned connection.
package arp

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/packet"
)

const (
	etherTypeARP = 0x0806
	hwTypeEthernet = 1
	protoTypeIPv4  = 0x0800

	opRequest = 1
	opReply   = 2

	frameLen = 14 + 28
)

// Opcode distinguishes an ARP request from a reply.
type Opcode int

const (
	Request Opcode = iota
	Reply
)

// Event is one ARP packet observed on the wire. EthernetSrc is the
// frame's Ethernet source address, which a proxy ARP responder will set
// to something other than SenderMAC; callers use this to filter out
// proxied replies.
type Event struct {
	Opcode      Opcode
	SenderMAC   net.HardwareAddr
	SenderIP    net.IP
	TargetMAC   net.HardwareAddr
	TargetIP    net.IP
	Interface   string
	EthernetSrc net.HardwareAddr
}

// IsProxied reports whether the Ethernet source differs from the ARP
// sender MAC, indicating a proxy ARP responder answered on the real
// owner's behalf.
func (e Event) IsProxied() bool {
	return len(e.EthernetSrc) == 6 && string(e.EthernetSrc) != string(e.SenderMAC)
}

// Socket is a raw ARP listener/sender bound to one interface.
type Socket struct {
	iface *net.Interface
	conn  *packet.Conn
}

// Open binds a raw AF_PACKET socket to ifaceName, filtered to the ARP
// ethertype.
func Open(ifaceName string) (*Socket, error) {
	ifi, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, err
	}
	conn, err := packet.Listen(ifi, packet.Raw, etherTypeARP, nil)
	if err != nil {
		return nil, fmt.Errorf("arp: open %s: %w", ifaceName, err)
	}
	return &Socket{iface: ifi, conn: conn}, nil
}

// Close releases the underlying socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// SendRequest broadcasts (or, if target is a known unicast MAC,
// unicasts) an ARP request asking who has targetIP, sourced from
// srcMAC/srcIP.
func (s *Socket) SendRequest(srcMAC net.HardwareAddr, srcIP net.IP, targetIP net.IP, dst net.HardwareAddr) error {
	if dst == nil {
		dst = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	}
	frame := buildARPFrame(opRequest, srcMAC, srcIP, make(net.HardwareAddr, 6), targetIP, dst)
	_, err := s.conn.WriteTo(frame, &packet.Addr{HardwareAddr: dst})
	return err
}

// ReadEvent blocks (up to the read deadline) for the next ARP packet and
// decodes it. Only Request and Reply opcodes are surfaced; anything else
// is skipped by returning (Event{}, false, nil).
func (s *Socket) ReadEvent(readTimeout time.Duration) (Event, bool, error) {
	buf := make([]byte, frameLen+32)
	s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	n, _, err := s.conn.ReadFrom(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return Event{}, false, nil
		}
		return Event{}, false, err
	}
	ev, ok := decodeARPFrame(buf[:n])
	if !ok {
		return Event{}, false, nil
	}
	ev.Interface = s.iface.Name
	ev.EthernetSrc = ethernetSource(buf[:n])
	return ev, true, nil
}

func buildARPFrame(opcode uint16, srcMAC net.HardwareAddr, srcIP net.IP, targetMAC net.HardwareAddr, targetIP net.IP, dstMAC net.HardwareAddr) []byte {
	frame := make([]byte, frameLen)

	copy(frame[0:6], dstMAC)
	copy(frame[6:12], srcMAC)
	binary.BigEndian.PutUint16(frame[12:14], etherTypeARP)

	arp := frame[14:]
	binary.BigEndian.PutUint16(arp[0:2], hwTypeEthernet)
	binary.BigEndian.PutUint16(arp[2:4], protoTypeIPv4)
	arp[4] = 6
	arp[5] = 4
	binary.BigEndian.PutUint16(arp[6:8], opcode)
	copy(arp[8:14], srcMAC)
	copy(arp[14:18], srcIP.To4())
	copy(arp[18:24], targetMAC)
	copy(arp[24:28], targetIP.To4())

	return frame
}

// decodeARPFrame parses an Ethernet+ARP frame, skipping anything that
// isn't a request or reply the ARP socket cares about. Proxy-ARP
// filtering (Ethernet source must match the ARP sender MAC) is applied
// by the caller, since it needs to compare against discovery state.
func decodeARPFrame(frame []byte) (Event, bool) {
	if len(frame) < frameLen {
		return Event{}, false
	}
	if binary.BigEndian.Uint16(frame[12:14]) != etherTypeARP {
		return Event{}, false
	}

	arp := frame[14:]
	if binary.BigEndian.Uint16(arp[0:2]) != hwTypeEthernet {
		return Event{}, false
	}
	if binary.BigEndian.Uint16(arp[2:4]) != protoTypeIPv4 {
		return Event{}, false
	}

	opcode := binary.BigEndian.Uint16(arp[6:8])
	var op Opcode
	switch opcode {
	case opRequest:
		op = Request
	case opReply:
		op = Reply
	default:
		return Event{}, false
	}

	senderMAC := net.HardwareAddr(append([]byte(nil), arp[8:14]...))
	senderIP := net.IP(append([]byte(nil), arp[14:18]...))
	targetMAC := net.HardwareAddr(append([]byte(nil), arp[18:24]...))
	targetIP := net.IP(append([]byte(nil), arp[24:28]...))

	// A reply with a null sender MAC is meaningless; drop it.
	if op == Reply && isNullMAC(senderMAC) {
		return Event{}, false
	}

	return Event{
		Opcode:    op,
		SenderMAC: senderMAC,
		SenderIP:  senderIP,
		TargetMAC: targetMAC,
		TargetIP:  targetIP,
	}, true
}

func isNullMAC(mac net.HardwareAddr) bool {
	for _, b := range mac {
		if b != 0 {
			return false
		}
	}
	return true
}

// ethernetSource extracts the source MAC from a raw frame.
func ethernetSource(frame []byte) net.HardwareAddr {
	if len(frame) < 12 {
		return nil
	}
	return net.HardwareAddr(append([]byte(nil), frame[6:12]...))
}
