// Package mpubsub implements a Multicast PubSub.
// Publish: a CBOR-encoded message is sent to a multicast group.
// Listen: received messages are dispatched to the handler registered
// for the method named in the message header.
package mpubsub

import (
	"bytes"
	"context"
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

const maxDatagramSize = 1024

type MessageHeader struct {
	Method string `cbor:"1,keyasint,omitempty"`
}

// HandlerFunc receives the raw CBOR body of a message and decodes it itself.
type HandlerFunc func(body cbor.RawMessage)

type PubSub struct {
	rc *net.UDPConn
	wc *net.UDPConn

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func New(rconn *net.UDPConn, wconn *net.UDPConn) *PubSub {
	return &PubSub{
		rc:       rconn,
		wc:       wconn,
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers the handler for a method name. Handlers must be
// registered before Listen is started.
func (ps *PubSub) Handle(method string, h HandlerFunc) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.handlers[method] = h
	log.Debugf("mpubsub.Handle: registered %s", method)
}

func (ps *PubSub) Publish(method string, args any) error {
	buf := new(bytes.Buffer)
	enc := cbor.NewEncoder(buf)
	if err := enc.Encode(MessageHeader{Method: method}); err != nil {
		return err
	}
	if err := enc.Encode(args); err != nil {
		return err
	}

	_, err := ps.wc.Write(buf.Bytes())
	return err
}

// Listen receives messages until the context is cancelled. Cancellation
// closes the read socket to unblock the pending read.
func (ps *PubSub) Listen(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ps.rc.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	ps.rc.SetReadBuffer(maxDatagramSize)
	for {
		n, _, err := ps.rc.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				log.Debugf("mpubsub: listener stopped")
				return ctx.Err()
			default:
				log.Errorf("mpubsub: failed to read message: %v", err)
				continue
			}
		}

		// Wrap the datagram in a reader and pass on to the CBOR decoder
		dec := cbor.NewDecoder(bytes.NewReader(buf[:n]))

		var msg MessageHeader
		if err := dec.Decode(&msg); err != nil {
			log.Errorf("mpubsub: failed to unmarshal message header: %v", err)
			continue
		}

		var body cbor.RawMessage
		if err := dec.Decode(&body); err != nil {
			log.Errorf("mpubsub: failed to read message body for %s: %v", msg.Method, err)
			continue
		}

		ps.mu.RLock()
		handler := ps.handlers[msg.Method]
		ps.mu.RUnlock()
		if handler == nil {
			log.Debugf("mpubsub: no handler for %s, dropping", msg.Method)
			continue
		}

		handler(body)
	}
}
