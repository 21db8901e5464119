// Package discover works out how LAN peers reach this host and renders
// that address as a QR code.
package discover

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/google/renameio"
	"github.com/jackpal/gateway"
	"github.com/mdp/qrterminal/v3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"rsc.io/qr"
)

// LocalIP returns the IPv4 address of the interface that faces the
// default gateway.  If the gateway can't be found it falls back to the
// address the kernel would route a public destination through, and
// finally to loopback.
func LocalIP() net.IP {
	gw, err := gateway.DiscoverGateway()
	if err == nil {
		ip, err := ipForGateway(gw)
		if err == nil {
			return ip
		}
		log.Debugf("discover: %v", err)
	} else {
		log.Debugf("discover: no gateway: %v", err)
	}

	// no packets are sent for a UDP dial
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP.To4() != nil {
			return addr.IP.To4()
		}
	}
	return net.IPv4(127, 0, 0, 1).To4()
}

// ipForGateway finds the local address on the same subnet as gw.
func ipForGateway(gw net.IP) (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.Wrap(err, "listing interfaces")
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			log.Warnf("discover: addresses of %s: %v", iface.Name, err)
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip == nil || !ip.IsGlobalUnicast() || ip.IsLoopback() {
				continue
			}
			if ipnet.Contains(gw) {
				return ip, nil
			}
		}
	}
	return nil, errors.Errorf("no local IPv4 address on the subnet of gateway %s", gw)
}

// URL is the address peers should open.
func URL(ip net.IP, port int) string {
	return fmt.Sprintf("http://%s:%d", ip, port)
}

// half-block characters, two QR rows per terminal line
const (
	blackWhite = "▄"
	blackBlack = " "
	whiteBlack = "▀"
	whiteWhite = "█"
)

// PrintQR draws url as a QR code on w.
func PrintQR(w io.Writer, url string) {
	config := qrterminal.Config{
		Level:          qrterminal.M,
		Writer:         w,
		HalfBlocks:     true,
		BlackChar:      blackBlack,
		WhiteBlackChar: whiteBlack,
		WhiteChar:      whiteWhite,
		BlackWhiteChar: blackWhite,
		QuietZone:      1,
	}
	qrterminal.GenerateWithConfig(url, config)
}

// Cache keeps a PNG QR code of URL in a file at Path.  The file is
// written on first use and again whenever it has been removed, for
// instance by a purge.
type Cache struct {
	Path    string
	URL     string
	mu      sync.Mutex
	written bool
}

func NewCache(path, url string) *Cache {
	return &Cache{Path: path, URL: url}
}

// PNG returns the encoded image.
func (c *Cache) PNG() (buf []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.written {
		buf, err = os.ReadFile(c.Path)
		if err == nil {
			return
		}
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "reading %s", c.Path)
		}
	}

	code, err := qr.Encode(c.URL, qr.M)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s", c.URL)
	}
	buf = code.PNG()
	err = renameio.WriteFile(c.Path, buf, 0644)
	if err != nil {
		// still usable, just not cached
		log.Warnf("discover: caching %s: %v", c.Path, err)
		return buf, nil
	}
	c.written = true
	log.Debugf("discover: wrote %s", c.Path)
	return
}
