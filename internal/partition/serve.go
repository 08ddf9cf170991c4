package partition

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"
)

// maxDatagram 單一 UDP 資料報上限
const maxDatagram = 65535

// idleWait 沒有任何房間需要處理時，計時迴圈最長的等待時間
const idleWait = time.Second

// UDPSender 透過 PacketConn 送出
func UDPSender(conn net.PacketConn) Sender {
	return func(datagram []byte, addr netip.AddrPort) error {
		_, err := conn.WriteTo(datagram, net.UDPAddrFromAddrPort(addr))
		return err
	}
}

// Serve 讀取 conn 上的資料報並分派，直到 ctx 結束
//
// 沒有設定 Sender 時使用 conn 送出。處理單一資料報時發生 panic 只會丟棄
// 該資料報，不會中止迴圈。
func (p *Partition) Serve(ctx context.Context, conn net.PacketConn) error {
	p.mu.Lock()
	if p.send == nil {
		p.send = UDPSender(conn)
	}
	p.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	p.logger.Info("分區開始接收資料報", "addr", conn.LocalAddr())
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				p.logger.Info("分區停止接收資料報")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		addr, ok := addrPort(from)
		if !ok {
			continue
		}
		p.safeHandle(addr, append([]byte(nil), buf[:n]...))
	}
}

// safeHandle 處理資料報，panic 時記錄並丟棄
func (p *Partition) safeHandle(addr netip.AddrPort, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("處理資料報時發生 panic，已丟棄",
				"addr", addr,
				"size", len(raw),
				"panic", rec)
		}
	}()
	p.HandleDatagram(addr, raw)
}

// Run 依 Tick 回傳的時間推進所有房間，直到 ctx 結束
func (p *Partition) Run(ctx context.Context) {
	timer := time.NewTimer(idleWait)
	defer timer.Stop()
	for {
		next := p.Tick(p.clock())
		wait := idleWait
		if !next.IsZero() {
			wait = max(next.Sub(p.clock()), 0)
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-p.wake:
		}
	}
}

func addrPort(a net.Addr) (netip.AddrPort, bool) {
	ua, ok := a.(*net.UDPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	ap := ua.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), true
}
