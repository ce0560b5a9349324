// Package capture records the frames put on the simulated wire as
// Ethernet/IPv4/UDP packets, and reads such captures back.
package capture

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/samaelod/scpsim/scp"
	"github.com/samaelod/scpsim/types"
)

type Format int

const (
	FormatPcap Format = iota
	FormatPcapNG
)

// FormatFor picks pcapng for ".pcapng" paths and classic pcap otherwise.
func FormatFor(path string) Format {
	if strings.HasSuffix(strings.ToLower(path), ".pcapng") {
		return FormatPcapNG
	}
	return FormatPcap
}

// endpoint is where a role lives on the simulated network.
type endpoint struct {
	mac  net.HardwareAddr
	ip   net.IP
	port layers.UDPPort
}

var endpoints = map[types.Role]endpoint{
	types.RoleClient: {
		mac:  net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		ip:   net.IPv4(10, 0, 0, 1).To4(),
		port: 40000,
	},
	types.RoleServer: {
		mac:  net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		ip:   net.IPv4(10, 0, 0, 2).To4(),
		port: 8080,
	},
}

const snapLen = 65536

type packetWriter interface {
	WritePacket(ci gopacket.CaptureInfo, data []byte) error
}

// Writer is a reporter that appends one packet per frame on the wire: a MSG
// for every attempt and an ACK for every acknowledgment the receiver sends,
// lost or not. Write errors are kept and returned by Close.
type Writer struct {
	mu sync.Mutex

	pw     packetWriter
	ng     *pcapgo.NgWriter
	closer io.Closer

	payloads map[types.Key]string
	packets  int
	err      error
}

// Create opens path for writing in the format its extension asks for.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(f)
	w, err := NewWriter(bw, FormatFor(path))
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = &flushCloser{bw: bw, f: f}
	return w, nil
}

type flushCloser struct {
	bw *bufio.Writer
	f  *os.File
}

func (c *flushCloser) Close() error {
	if err := c.bw.Flush(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}

func NewWriter(dst io.Writer, format Format) (*Writer, error) {
	w := &Writer{payloads: make(map[types.Key]string)}

	switch format {
	case FormatPcapNG:
		ng, err := pcapgo.NewNgWriter(dst, layers.LinkTypeEthernet)
		if err != nil {
			return nil, fmt.Errorf("pcapng header: %w", err)
		}
		w.pw, w.ng = ng, ng
	default:
		pw := pcapgo.NewWriter(dst)
		if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
			return nil, fmt.Errorf("pcap header: %w", err)
		}
		w.pw = pw
	}
	return w, nil
}

func (w *Writer) Report(ev types.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch ev.Kind {
	case types.EventCleared:
		w.payloads = make(map[types.Key]string)
		return
	case types.EventSubmitted:
		if f, err := scp.Parse(ev.Frame); err == nil {
			w.payloads[ev.Key()] = f.Payload
		}
		return
	case types.EventAttempt:
		w.write(ev.Time, ev.Role, ev.Role.Peer(), scp.Msg(ev.ID, w.payloads[ev.Key()]))
	case types.EventAckSent, types.EventAckLost:
		w.write(ev.Time, ev.Role.Peer(), ev.Role, scp.Ack(ev.ID))
	}

	if ev.Kind.Terminal() {
		delete(w.payloads, ev.Key())
	}
}

// Packets is the number of packets written so far.
func (w *Writer) Packets() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.packets
}

// Close flushes buffered packets and closes the file opened by Create.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.err
	if w.ng != nil {
		if ferr := w.ng.Flush(); err == nil {
			err = ferr
		}
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
		w.closer = nil
	}
	return err
}

func (w *Writer) write(ts time.Time, from, to types.Role, f scp.Frame) {
	if w.err != nil {
		return
	}
	data, err := encode(from, to, []byte(f.String()))
	if err != nil {
		w.err = err
		return
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := w.pw.WritePacket(ci, data); err != nil {
		w.err = err
		return
	}
	w.packets++
}

func encode(from, to types.Role, payload []byte) ([]byte, error) {
	src, dst := endpoints[from], endpoints[to]

	eth := &layers.Ethernet{
		SrcMAC:       src.mac,
		DstMAC:       dst.mac,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.ip,
		DstIP:    dst.ip,
	}
	udp := &layers.UDP{
		SrcPort: src.port,
		DstPort: dst.port,
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return buf.Bytes(), nil
}
