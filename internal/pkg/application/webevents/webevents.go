package webevents

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"

	gosse "github.com/alexandrevicenzi/go-sse"
	"github.com/rs/zerolog"

	"github.com/diwise/smarthome-monitor/internal/pkg/application/realtime"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

// WebEvents mirrors broadcast events to server-sent event streams. Every
// identity gets its own channel so user scoped events stay private.
type WebEvents interface {
	realtime.Sink
	http.Handler
	Shutdown()
}

type webEvents struct {
	s    *gosse.Server
	once sync.Once
}

// New creates the event stream server. identify returns the channel name of a
// request, which must be the identity of the authenticated caller.
func New(logger zerolog.Logger, identify func(*http.Request) string) WebEvents {
	return &webEvents{
		s: gosse.NewServer(&gosse.Options{
			ChannelNameFunc: identify,
			Logger:          log.New(debugWriter{logger.With().Str("component", "sse").Logger()}, "", 0),
		}),
	}
}

// debugWriter lowers the chatty go-sse output to debug level.
type debugWriter struct {
	logger zerolog.Logger
}

func (w debugWriter) Write(p []byte) (int, error) {
	w.logger.Debug().Msg(strings.TrimSpace(string(p)))
	return len(p), nil
}

func (we *webEvents) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	we.s.ServeHTTP(w, r)
}

// Shutdown stops the event stream server. Streams should be closed before,
// go-sse does not accept disconnects after shutdown.
func (we *webEvents) Shutdown() {
	we.once.Do(we.s.Shutdown)
}

func (we *webEvents) Publish(ctx context.Context, scope realtime.Scope, e types.Event) error {
	b, err := types.Encode(e)
	if err != nil {
		return err
	}

	message := gosse.NewMessage("", string(b), e.EventName())

	if scope.IsAll() {
		we.s.SendMessage("", message)
		return nil
	}

	if we.s.HasChannel(scope.Identity()) {
		we.s.SendMessage(scope.Identity(), message)
	}

	return nil
}
