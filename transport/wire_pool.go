package transport

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"
)

// connKey identifies connections that can carry each other's requests:
// same scheme, same dialed address, same proxy route.
type connKey struct {
	scheme string
	addr   string
	route  string
}

// persistConn is one HTTP/1.1 connection. raw is the TCP or TLS conn; conn
// wraps it with per-operation deadlines and feeds br and bw.
type persistConn struct {
	key    connKey
	raw    net.Conn
	conn   net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer
	idleAt time.Time
}

func (pc *persistConn) close() { pc.raw.Close() }

// alive probes an idle connection before reuse. Buffered or unsolicited
// bytes, EOF or any error other than the probe's own timeout mean the peer
// has closed or desynchronized the connection.
func (pc *persistConn) alive() bool {
	if pc.br.Buffered() > 0 {
		return false
	}
	if err := pc.raw.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false
	}
	var one [1]byte
	n, err := pc.raw.Read(one[:])
	if n > 0 {
		return false
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		return false
	}
	return pc.raw.SetReadDeadline(time.Time{}) == nil
}

// connPool keeps at most max idle connections across all keys and closes
// those idle longer than idleTimeout.
type connPool struct {
	mu     sync.Mutex
	idle   map[connKey][]*persistConn
	count  int
	closed bool

	max         int
	idleTimeout time.Duration

	stop chan struct{}
	done chan struct{}
}

func newConnPool(maxIdle int, idleTimeout time.Duration) *connPool {
	p := &connPool{
		idle:        make(map[connKey][]*persistConn),
		max:         maxIdle,
		idleTimeout: idleTimeout,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if idleTimeout > 0 {
		go p.janitor()
	} else {
		close(p.done)
	}
	return p
}

// get returns a live idle connection for key, most recently used first.
func (p *connPool) get(key connKey) *persistConn {
	for {
		p.mu.Lock()
		conns := p.idle[key]
		if len(conns) == 0 {
			p.mu.Unlock()
			return nil
		}
		pc := conns[len(conns)-1]
		p.removeLocked(key, len(conns)-1)
		p.mu.Unlock()

		if pc.alive() {
			return pc
		}
		pc.close()
	}
}

// put returns pc to the pool, or closes it when the pool is full or closed.
func (p *connPool) put(pc *persistConn) {
	p.mu.Lock()
	if p.closed || p.count >= p.max {
		p.mu.Unlock()
		pc.close()
		return
	}
	pc.idleAt = time.Now()
	p.idle[pc.key] = append(p.idle[pc.key], pc)
	p.count++
	p.mu.Unlock()
}

func (p *connPool) removeLocked(key connKey, i int) {
	conns := p.idle[key]
	conns = append(conns[:i], conns[i+1:]...)
	if len(conns) == 0 {
		delete(p.idle, key)
	} else {
		p.idle[key] = conns
	}
	p.count--
}

// idleCount is the number of pooled connections.
func (p *connPool) idleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *connPool) janitor() {
	defer close(p.done)

	interval := max(p.idleTimeout/2, 10*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			p.prune(now)
		}
	}
}

// prune closes connections idle since before now-idleTimeout.
func (p *connPool) prune(now time.Time) {
	var expired []*persistConn

	p.mu.Lock()
	for key, conns := range p.idle {
		kept := conns[:0]
		for _, pc := range conns {
			if now.Sub(pc.idleAt) >= p.idleTimeout {
				expired = append(expired, pc)
				p.count--
				continue
			}
			kept = append(kept, pc)
		}
		if len(kept) == 0 {
			delete(p.idle, key)
		} else {
			p.idle[key] = kept
		}
	}
	p.mu.Unlock()

	for _, pc := range expired {
		pc.close()
	}
}

// close drops every idle connection and stops the janitor. Connections put
// back afterwards are closed immediately.
func (p *connPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var all []*persistConn
	for _, conns := range p.idle {
		all = append(all, conns...)
	}
	p.idle = make(map[connKey][]*persistConn)
	p.count = 0
	p.mu.Unlock()

	close(p.stop)
	<-p.done
	for _, pc := range all {
		pc.close()
	}
}
