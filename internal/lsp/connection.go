package lsp

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.lsp.dev/jsonrpc2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wycleffsean/linthost/internal/queue"
)

var ErrConnectionClosed = errors.New("connection closed")

const flushTimeout = 5 * time.Second

// Connection moves framed JSON-RPC messages between the peer and the event
// loop. A reader goroutine feeds Incoming; a writer goroutine drains an
// unbounded outbound queue so Send never waits on the peer.
type Connection struct {
	stream   jsonrpc2.Stream
	incoming chan jsonrpc2.Message
	outgoing *queue.Queue[jsonrpc2.Message]
	logger   *zap.Logger

	readerDone chan struct{}
	writerDone chan struct{}

	mu       sync.Mutex
	readErr  error
	writeErr error
	closed   bool
}

// NewConnection starts the I/O goroutines for rwc. The goroutines log to
// logger, which may be nil.
func NewConnection(rwc io.ReadWriteCloser, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Connection{
		stream:     jsonrpc2.NewStream(rwc),
		incoming:   make(chan jsonrpc2.Message),
		outgoing:   queue.New[jsonrpc2.Message](),
		logger:     logger,
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go c.read()
	go c.write()
	return c
}

// Stdio connects over the process's stdin and stdout.
func Stdio(logger *zap.Logger) *Connection {
	return NewConnection(&readWriteCloser{
		reader: os.Stdin,
		writer: os.Stdout,
	}, logger)
}

func (c *Connection) read() {
	defer close(c.readerDone)
	defer close(c.incoming)
	for {
		msg, _, err := c.stream.Read(context.Background())
		if isDecodeError(err) {
			// the frame was consumed, only its body was bad
			c.logger.Error("dropping malformed message", zap.Error(err))
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.isClosed() {
				c.mu.Lock()
				c.readErr = err
				c.mu.Unlock()
				c.logger.Error("failed to read message", zap.Error(err))
			}
			return
		}
		c.incoming <- msg
	}
}

func (c *Connection) write() {
	defer close(c.writerDone)
	for {
		msg, ok := c.outgoing.Pop()
		if !ok {
			return
		}
		if _, err := c.stream.Write(context.Background(), msg); err != nil {
			c.mu.Lock()
			if c.writeErr == nil {
				c.writeErr = err
			}
			c.mu.Unlock()
			c.logger.Error("failed to write message", zap.Error(err))
		}
	}
}

// Incoming yields messages in the order the peer sent them and is closed
// when the stream ends.
func (c *Connection) Incoming() <-chan jsonrpc2.Message { return c.incoming }

// Send queues msg for writing.
func (c *Connection) Send(msg jsonrpc2.Message) error {
	if !c.outgoing.Push(msg) {
		return ErrConnectionClosed
	}
	return nil
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close flushes queued messages, closes the stream and waits for both I/O
// goroutines.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// let the writer flush what is queued before the stream goes away
	c.outgoing.Close()
	select {
	case <-c.writerDone:
	case <-time.After(flushTimeout):
		c.logger.Warn("timed out flushing outgoing messages", zap.Int("dropped", c.outgoing.Len()))
	}
	err := c.stream.Close()

	// the reader may be blocked handing over a message nobody will take
	go func() {
		for range c.incoming {
		}
	}()
	<-c.readerDone
	<-c.writerDone

	c.mu.Lock()
	defer c.mu.Unlock()
	return multierr.Combine(c.readErr, c.writeErr, ignoreClosed(err))
}

func isDecodeError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, jsonrpc2.ErrInvalidRequest) || strings.HasPrefix(err.Error(), "unmarshaling jsonrpc message")
}

func ignoreClosed(err error) error {
	if errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

type readWriteCloser struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (r *readWriteCloser) Read(b []byte) (int, error) {
	return r.reader.Read(b)
}

func (r *readWriteCloser) Write(b []byte) (int, error) {
	return r.writer.Write(b)
}

func (r *readWriteCloser) Close() error {
	return multierr.Append(r.reader.Close(), r.writer.Close())
}
