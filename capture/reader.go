package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/samaelod/scpsim/scp"
	"github.com/samaelod/scpsim/types"
)

// Packet is one SCP frame found in a capture.
type Packet struct {
	Time  time.Time
	From  types.Role
	To    types.Role
	Frame scp.Frame
}

type packetSource interface {
	LinkType() layers.LinkType
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
}

const pcapngMagic = 0x0A0D0D0A

// detectFormat looks at the first block without consuming it.
func detectFormat(r *bufio.Reader) (Format, error) {
	header, err := r.Peek(4)
	if err != nil {
		return FormatPcap, err
	}
	if binary.LittleEndian.Uint32(header) == pcapngMagic {
		return FormatPcapNG, nil
	}
	return FormatPcap, nil
}

func openPacketSource(r io.Reader) (packetSource, error) {
	br := bufio.NewReader(r)
	format, err := detectFormat(br)
	if err != nil {
		return nil, fmt.Errorf("capture header: %w", err)
	}

	if format == FormatPcapNG {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, err
		}
		return ng, nil
	}

	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, err
	}
	return pr, nil
}

// Read loads every SCP frame from a pcap or pcapng file.
func Read(path string) ([]Packet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadFrom(f)
}

// ReadFrom is Read over an already open capture. Packets that are not UDP
// between the two simulated endpoints, or that carry no SCP line, are skipped.
func ReadFrom(r io.Reader) ([]Packet, error) {
	source, err := openPacketSource(r)
	if err != nil {
		return nil, err
	}

	var out []Packet
	for {
		data, ci, err := source.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, err
		}

		packet := gopacket.NewPacket(data, source.LinkType(), gopacket.Default)
		ipLayer := packet.Layer(layers.LayerTypeIPv4)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if ipLayer == nil || udpLayer == nil {
			continue
		}
		ip := ipLayer.(*layers.IPv4)
		udp := udpLayer.(*layers.UDP)

		from, ok := roleOf(ip.SrcIP, udp.SrcPort)
		if !ok {
			continue
		}
		to, ok := roleOf(ip.DstIP, udp.DstPort)
		if !ok || to == from {
			continue
		}

		frame, err := scp.Parse(string(udp.Payload))
		if err != nil {
			log.Printf("capture: skipping packet at %s: %v", ci.Timestamp.Format(time.RFC3339Nano), err)
			continue
		}

		out = append(out, Packet{Time: ci.Timestamp, From: from, To: to, Frame: frame})
	}

	return out, nil
}

func roleOf(addr net.IP, port layers.UDPPort) (types.Role, bool) {
	for role, ep := range endpoints {
		if ep.port == port && ep.ip.Equal(addr) {
			return role, true
		}
	}
	return "", false
}
