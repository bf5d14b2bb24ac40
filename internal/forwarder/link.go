package forwarder

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lora-pkt-fwd/internal/metrics"
)

// link is the pair of connected UDP sockets to the network server.
// Readers and writers take the current socket under the read lock and use it
// unlocked; reopen swaps both sockets and closes the old ones.
type link struct {
	addrUp   string
	addrDown string

	mu   sync.RWMutex
	up   *net.UDPConn
	down *net.UDPConn
}

func dialLink(host string, portUp, portDown int) (*link, error) {
	l := &link{
		addrUp:   net.JoinHostPort(host, strconv.Itoa(portUp)),
		addrDown: net.JoinHostPort(host, strconv.Itoa(portDown)),
	}

	up, down, err := l.dial()
	if err != nil {
		return nil, err
	}
	l.up, l.down = up, down
	return l, nil
}

func (l *link) dial() (*net.UDPConn, *net.UDPConn, error) {
	up, err := dialUDP(l.addrUp)
	if err != nil {
		return nil, nil, fmt.Errorf("dial upstream %s: %w", l.addrUp, err)
	}
	down, err := dialUDP(l.addrDown)
	if err != nil {
		up.Close()
		return nil, nil, fmt.Errorf("dial downstream %s: %w", l.addrDown, err)
	}
	return up, down, nil
}

func dialUDP(addr string) (*net.UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.DialUDP("udp", nil, raddr)
}

// reopen replaces both sockets after a receive error on the downstream one
func (l *link) reopen() error {
	up, down, err := l.dial()
	if err != nil {
		return err
	}

	l.mu.Lock()
	oldUp, oldDown := l.up, l.down
	l.up, l.down = up, down
	l.mu.Unlock()

	oldUp.Close()
	oldDown.Close()

	metrics.SocketReopenCounter.Inc()
	log.Warn().
		Str("up", l.addrUp).
		Str("down", l.addrDown).
		Msg("已重新打开上下行套接字")
	return nil
}

func (l *link) conns() (*net.UDPConn, *net.UDPConn) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.up, l.down
}

func (l *link) sendUp(b []byte) error {
	up, _ := l.conns()
	_, err := up.Write(b)
	return err
}

func (l *link) sendDown(b []byte) error {
	_, down := l.conns()
	_, err := down.Write(b)
	return err
}

func (l *link) readUp(buf []byte, timeout time.Duration) (int, error) {
	up, _ := l.conns()
	return readTimeout(up, buf, timeout)
}

func (l *link) readDown(buf []byte, timeout time.Duration) (int, error) {
	_, down := l.conns()
	return readTimeout(down, buf, timeout)
}

func readTimeout(c *net.UDPConn, buf []byte, timeout time.Duration) (int, error) {
	if err := c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	return c.Read(buf)
}

func (l *link) close() {
	up, down := l.conns()
	up.Close()
	down.Close()
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
