package connection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/iksnae/opencode-sync/internal/api"
)

// Handlers receive transport events. They may be called from any goroutine.
type Handlers struct {
	OnOpen    func()
	OnMessage func(data string)
	OnError   func(err error)
}

// Stream is an open transport handle
type Stream interface {
	Close() error
	Alive() bool
}

// Transport opens event streams. Open returns without waiting for the
// connection; OnOpen or OnError reports the outcome.
type Transport interface {
	Open(url string, h Handlers) (Stream, error)
}

// Prober checks that a server is reachable before a stream is opened
type Prober interface {
	Probe(ctx context.Context, baseURL string) error
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context, baseURL string) error

func (f ProberFunc) Probe(ctx context.Context, baseURL string) error {
	return f(ctx, baseURL)
}

// HTTPProber probes with HEAD {baseURL}
type HTTPProber struct {
	Options []api.Option
}

func (p HTTPProber) Probe(ctx context.Context, baseURL string) error {
	return api.New(baseURL, p.Options...).Health(ctx)
}

// ErrStreamClosed is reported when the server ends the stream
var ErrStreamClosed = errors.New("event stream closed by server")

// HTTPTransport reads Server-Sent Events over a long-lived GET
type HTTPTransport struct {
	Client *http.Client
}

type httpStream struct {
	cancel context.CancelFunc
	alive  atomic.Bool
	closed atomic.Bool
}

func (s *httpStream) Close() error {
	s.closed.Store(true)
	s.alive.Store(false)
	s.cancel()
	return nil
}

func (s *httpStream) Alive() bool {
	return s.alive.Load()
}

func (t *HTTPTransport) Open(url string, h Handlers) (Stream, error) {
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := t.Client
	if client == nil {
		// no timeout: the body stays open for the life of the stream
		client = &http.Client{}
	}

	s := &httpStream{cancel: cancel}
	go func() {
		defer cancel()
		report := func(err error) {
			if !s.closed.Load() && h.OnError != nil {
				h.OnError(err)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			report(err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			report(fmt.Errorf("event stream: unexpected status %d", resp.StatusCode))
			return
		}

		s.alive.Store(true)
		if h.OnOpen != nil && !s.closed.Load() {
			h.OnOpen()
		}
		err = consumeSSE(resp.Body, func(payload string) error {
			if s.closed.Load() {
				return context.Canceled
			}
			if h.OnMessage != nil {
				h.OnMessage(payload)
			}
			return nil
		})
		s.alive.Store(false)
		if err == nil {
			err = ErrStreamClosed
		}
		report(err)
	}()
	return s, nil
}

// consumeSSE calls onData with the joined data lines of every event. Comment
// lines and fields other than data are skipped.
func consumeSSE(body io.Reader, onData func(payload string) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var dataLines []string
	flush := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]
		return onData(payload)
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(trimmed, ":") {
			continue
		}
		if strings.HasPrefix(trimmed, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}
