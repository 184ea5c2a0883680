package gossip

import (
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Packet is an inbound UDP datagram, timestamped at receipt for probe
// round-trip accounting.
type Packet struct {
	Buf       []byte
	From      net.Addr
	Timestamp time.Time
}

// Transport owns the UDP socket and TCP listener for one gossip engine
// instance. Exposes SendPacket/DialStream/PacketCh/Shutdown.
type Transport struct {
	logger *slog.Logger

	udpConn *net.UDPConn
	tcpLn   *net.TCPListener

	packetCh chan *Packet
	streamCh chan net.Conn

	bufSize int
	cidrs   []*net.IPNet

	wg       sync.WaitGroup
	shutdown chan struct{}
}

// NewTransport binds bindAddr:port for UDP and TCP and starts the receive
// pumps.
func NewTransport(bindAddr string, port int, bufSize int, cidrs []string, logger *slog.Logger) (*Transport, error) {
	udpAddr := &net.UDPAddr{IP: net.ParseIP(bindAddr), Port: port}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to bind UDP")
	}

	tcpAddr := &net.TCPAddr{IP: net.ParseIP(bindAddr), Port: port}
	tcpLn, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		udpConn.Close()
		return nil, errors.Wrap(err, "failed to bind TCP")
	}

	var nets []*net.IPNet
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			udpConn.Close()
			tcpLn.Close()
			return nil, errors.Wrapf(err, "invalid CIDR %q", c)
		}
		nets = append(nets, n)
	}

	t := &Transport{
		logger:   logger,
		udpConn:  udpConn,
		tcpLn:    tcpLn,
		packetCh: make(chan *Packet, 1024),
		streamCh: make(chan net.Conn, 256),
		bufSize:  bufSize,
		cidrs:    nets,
		shutdown: make(chan struct{}),
	}

	t.wg.Add(2)
	go t.udpListen()
	go t.tcpListen()
	return t, nil
}

func (t *Transport) allowed(addr net.Addr) bool {
	if len(t.cidrs) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	for _, n := range t.cidrs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (t *Transport) udpListen() {
	defer t.wg.Done()
	buf := make([]byte, t.bufSize)
	for {
		n, addr, err := t.udpConn.ReadFrom(buf)
		if err != nil {
			select {
			case <-t.shutdown:
				return
			default:
				t.logger.Debug("udp read error", "error", err)
				continue
			}
		}
		if n == 0 {
			continue
		}
		if !t.allowed(addr) {
			t.logger.Debug("rejected packet from disallowed CIDR", "addr", addr)
			continue
		}
		if n == len(buf) {
			t.logger.Warn("udp datagram truncated at buffer size", "size", n)
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case t.packetCh <- &Packet{Buf: cp, From: addr, Timestamp: time.Now()}:
		default:
			t.logger.Warn("packet channel full, dropping datagram")
		}
	}
}

func (t *Transport) tcpListen() {
	defer t.wg.Done()
	for {
		conn, err := t.tcpLn.Accept()
		if err != nil {
			select {
			case <-t.shutdown:
				return
			default:
				t.logger.Debug("tcp accept error", "error", err)
				continue
			}
		}
		if !t.allowed(conn.RemoteAddr()) {
			conn.Close()
			continue
		}
		select {
		case t.streamCh <- conn:
		default:
			t.logger.Warn("stream channel full, dropping connection")
			conn.Close()
		}
	}
}

// PacketCh returns the channel of inbound UDP packets.
func (t *Transport) PacketCh() <-chan *Packet { return t.packetCh }

// StreamCh returns the channel of accepted inbound TCP connections.
func (t *Transport) StreamCh() <-chan net.Conn { return t.streamCh }

// SendPacket sends a single UDP datagram; failures are returned, never
// retried at this layer.
func (t *Transport) SendPacket(addr string, buf []byte) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return errors.Wrap(err, "failed to resolve UDP address")
	}
	_, err = t.udpConn.WriteTo(buf, udpAddr)
	return errors.Wrap(err, "udp send failed")
}

// DialStream opens a TCP connection to addr with the configured timeout.
func (t *Transport) DialStream(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	return conn, errors.Wrap(err, "tcp dial failed")
}

// LocalAddr returns the bound UDP address.
func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.udpConn.LocalAddr().(*net.UDPAddr)
}

// Shutdown closes the sockets and waits for the pumps to exit.
func (t *Transport) Shutdown() error {
	close(t.shutdown)
	var errs []string
	if err := t.udpConn.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := t.tcpLn.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	t.wg.Wait()
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
