package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/reachd/internal/reachmgr"
	"github.com/dmdmdm-nz/reachd/pkg/reachability"
)

const writeTimeout = 5 * time.Second

func accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
}

// handleStatusStream sends the current status of every target, then each
// change as it happens. ?target= limits the stream to one target.
func (s *Service) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	var filter string
	if v := r.URL.Query().Get("target"); v != "" {
		t, err := reachability.NormalizeTarget(reachmgr.ParseKey(v))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter = reachmgr.Key(t)
	}

	c, err := accept(w, r)
	if err != nil {
		log.WithError(err).Warn("Failed to accept websocket client")
		return
	}
	defer c.CloseNow()

	// Clients only listen; CloseRead handles their close frame.
	ctx := c.CloseRead(r.Context())

	events, unsub := s.rm.Subscribe()
	defer unsub()

	logger := log.WithField("remote", r.RemoteAddr)
	logger.Debug("Status stream opened")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Status stream closed by client")
			return
		case ev, ok := <-events:
			if !ok {
				c.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if filter != "" && ev.Target.Target != filter {
				continue
			}
			if err := writeEvent(ctx, c, ev); err != nil {
				logger.WithError(err).Debug("Failed to write status event")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, c *websocket.Conn, ev reachmgr.StatusEvent) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, ev)
}
