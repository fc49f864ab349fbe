package network

import (
	"context"
	"fmt"
	"net"

	"github.com/xtaci/kcp-go/v5"
)

// Транспорты надёжного канала
const (
	TransportTCP = "tcp"
	TransportKCP = "kcp"
)

// Listen открывает слушатель надёжного канала: TCP или KCP поверх UDP
func Listen(transport, addr string) (net.Listener, error) {
	switch transport {
	case TransportTCP, "":
		return net.Listen("tcp", addr)
	case TransportKCP:
		l, err := kcp.ListenWithOptions(addr, nil, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("kcp listen %s: %w", addr, err)
		}
		return &kcpListener{Listener: l}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

// Dial устанавливает надёжное соединение с сервером
func Dial(ctx context.Context, transport, addr string) (net.Conn, error) {
	switch transport {
	case TransportTCP, "":
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	case TransportKCP:
		sess, err := kcp.DialWithOptions(addr, nil, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("kcp dial %s: %w", addr, err)
		}
		tuneKCP(sess)
		return sess, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

// kcpListener настраивает каждую принятую KCP-сессию для игрового трафика
type kcpListener struct {
	*kcp.Listener
}

func (l *kcpListener) Accept() (net.Conn, error) {
	sess, err := l.AcceptKCP()
	if err != nil {
		return nil, err
	}
	tuneKCP(sess)
	return sess, nil
}

func tuneKCP(sess *kcp.UDPSession) {
	sess.SetStreamMode(true)
	sess.SetWriteDelay(false)
	sess.SetNoDelay(1, 20, 2, 1) // Агрессивные настройки для игр
	sess.SetWindowSize(512, 512)
	sess.SetMtu(1400)
}
