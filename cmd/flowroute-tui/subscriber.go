package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/sub"

	// Register transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/dd0wney/cluso-flowroute/pkg/sink"
)

// subscriber receives frames on a SUB socket and hands them to the UI.
type subscriber struct {
	sock   mangos.Socket
	frames chan frameMsg
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func subscribe(addr string) (*subscriber, error) {
	sock, err := sub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create SUB socket: %w", err)
	}
	if err := sock.SetOption(mangos.OptionSubscribe, []byte("")); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.SetOption(mangos.OptionRecvDeadline, 500*time.Millisecond); err != nil {
		sock.Close()
		return nil, err
	}
	// Dial in the background so the UI can start before the run does
	if err := sock.DialOptions(addr, map[string]any{mangos.OptionDialAsynch: true}); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	s := &subscriber{
		sock:   sock,
		frames: make(chan frameMsg, 64),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s, nil
}

func (s *subscriber) loop() {
	defer s.wg.Done()
	defer close(s.frames)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		data, err := s.sock.Recv()
		if errors.Is(err, mangos.ErrRecvTimeout) {
			continue
		}
		if err != nil {
			if errors.Is(err, mangos.ErrClosed) {
				return
			}
			s.send(frameMsg{err: err})
			continue
		}
		frame, err := sink.DecodeFrame(data)
		s.send(frameMsg{frame: frame, err: err})
	}
}

// send drops the oldest pending frame rather than block the socket.
func (s *subscriber) send(msg frameMsg) {
	for {
		select {
		case s.frames <- msg:
			return
		case <-s.done:
			return
		default:
		}
		select {
		case <-s.frames:
		default:
		}
	}
}

// Frames is closed when the subscriber stops.
func (s *subscriber) Frames() <-chan frameMsg {
	return s.frames
}

func (s *subscriber) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.sock.Close()
		s.wg.Wait()
	})
	return err
}
