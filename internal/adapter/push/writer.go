package push

import (
	"log/slog"
	"sync"
	"time"
)

const (
	messageBufferSize    = 16
	gracefulCloseTimeout = time.Second
)

// Conn is the minimal capability every push backend provides: append a
// serialised frame and close the underlying transport.
type Conn interface {
	Write(data []byte) error
	Close() error
}

// Prober is implemented by backends that support liveness probing.
type Prober interface {
	Ping() error
}

// reasonCloser is implemented by backends that can tell the peer why the
// connection is going away.
type reasonCloser interface {
	CloseWithReason(reason string) error
}

// clientWriter owns all data writes to one connection. Frames are queued on
// sendChannel and written in order by a single goroutine.
type clientWriter struct {
	connection  Conn
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func newClientWriter(connection Conn) *clientWriter {
	cw := &clientWriter{
		connection:  connection,
		sendChannel: make(chan []byte, messageBufferSize),
		doneChannel: make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()

	for {
		select {
		case msg := <-cw.sendChannel:
			if err := cw.connection.Write(msg); err != nil {
				// Closing ends the backend's read side, which unregisters the connection.
				slog.Debug("Push write failed, closing connection", "error", err)
				_ = cw.connection.Close()
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// enqueue queues a frame without blocking. It reports false when the buffer
// is full or the writer has stopped.
func (cw *clientWriter) enqueue(msg []byte) bool {
	select {
	case <-cw.doneChannel:
		return false
	default:
	}

	select {
	case cw.sendChannel <- msg:
		return true
	default:
		return false
	}
}

// stop closes the connection, which also aborts a write in progress.
func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopGraceful tells the peer why it is being disconnected. It does not
// block: the close frame is written once the run goroutine has exited, and a
// writer still stuck in a write after gracefulCloseTimeout is aborted by a
// plain close. The returned channel is closed when the connection is closed.
func (cw *clientWriter) stopGraceful(reason string) <-chan struct{} {
	closed := make(chan struct{})
	started := false

	cw.stopOnce.Do(func() {
		started = true
		close(cw.doneChannel)
		go cw.closeGracefully(reason, closed)
	})

	if !started {
		close(closed)
	}
	return closed
}

func (cw *clientWriter) closeGracefully(reason string, closed chan<- struct{}) {
	defer close(closed)

	exited := make(chan struct{})
	go func() {
		cw.wg.Wait()
		close(exited)
	}()

	timer := time.NewTimer(gracefulCloseTimeout)
	defer timer.Stop()

	select {
	case <-exited:
	case <-timer.C:
		slog.Debug("Push writer still busy, closing without reason", "reason", reason)
		_ = cw.connection.Close()
		<-exited
		return
	}

	if rc, ok := cw.connection.(reasonCloser); ok {
		_ = rc.CloseWithReason(reason)
		return
	}
	_ = cw.connection.Close()
}
