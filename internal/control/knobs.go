package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/metric"
)

// knobMessage is the JSON body a remote knob client sends. Absent fields
// leave the corresponding reading unchanged.
type knobMessage struct {
	Gain *int `json:"gain"`
	Time *int `json:"time"`
}

// Knobs is a [Source] fed by remote clients over WebSocket, standing in for
// the two potentiometers. The latest reading wins.
//
// Clients connect to the handler returned by [Knobs.Handler] and send text
// messages such as {"gain": 32768, "time": 1200}. Each accepted update is
// answered with the resulting [Reading].
type Knobs struct {
	gain    atomic.Uint32
	time    atomic.Uint32
	clients atomic.Int64

	// readLimit bounds a single client message in bytes.
	readLimit int64

	// connected, if set, tracks connected clients.
	connected metric.Int64UpDownCounter
}

// KnobsOption configures [Knobs].
type KnobsOption func(*Knobs)

// WithClientCounter reports client connects and disconnects to c.
func WithClientCounter(c metric.Int64UpDownCounter) KnobsOption {
	return func(k *Knobs) { k.connected = c }
}

// NewKnobs returns a Knobs source starting at initial.
func NewKnobs(initial Reading, opts ...KnobsOption) *Knobs {
	k := &Knobs{readLimit: 1024}
	for _, o := range opts {
		o(k)
	}
	k.Set(initial)
	return k
}

// Read implements [Source].
func (k *Knobs) Read() Reading {
	return Reading{
		Gain: uint16(k.gain.Load()),
		Time: uint16(k.time.Load()),
	}
}

// Set stores a new reading.
func (k *Knobs) Set(rd Reading) {
	k.gain.Store(uint32(rd.Gain))
	k.time.Store(uint32(rd.Time))
}

// Clients returns the number of connected knob clients.
func (k *Knobs) Clients() int64 {
	return k.clients.Load()
}

// apply merges msg into the current reading, clamping out-of-range values.
func (k *Knobs) apply(msg knobMessage) Reading {
	rd := k.Read()
	if msg.Gain != nil {
		rd.Gain = clamp16(*msg.Gain)
	}
	if msg.Time != nil {
		rd.Time = clamp16(*msg.Time)
	}
	k.Set(rd)
	return rd
}

// Handler returns the WebSocket endpoint for knob clients.
func (k *Knobs) Handler() http.Handler {
	return http.HandlerFunc(k.serveWS)
}

// Register adds the knob endpoint to mux at GET /controls/ws.
func (k *Knobs) Register(mux *http.ServeMux) {
	mux.Handle("GET /controls/ws", k.Handler())
}

func (k *Knobs) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("knobs: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(k.readLimit)

	ctx := r.Context()
	k.track(ctx, 1)
	defer k.track(context.WithoutCancel(ctx), -1)
	slog.Info("knobs: client connected", "remote", r.RemoteAddr)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				slog.Debug("knobs: client read ended", "remote", r.RemoteAddr, "err", err)
			}
			slog.Info("knobs: client disconnected", "remote", r.RemoteAddr)
			return
		}
		if typ != websocket.MessageText {
			slog.Warn("knobs: ignoring binary message", "remote", r.RemoteAddr)
			continue
		}

		var msg knobMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("knobs: malformed message ignored", "remote", r.RemoteAddr, "err", err)
			continue
		}
		rd := k.apply(msg)
		if err := wsjson.Write(ctx, conn, rd); err != nil {
			slog.Debug("knobs: ack failed", "remote", r.RemoteAddr, "err", err)
			return
		}
	}
}

func (k *Knobs) track(ctx context.Context, delta int64) {
	k.clients.Add(delta)
	if k.connected != nil {
		k.connected.Add(ctx, delta)
	}
}

// StateHandler serves the current derived control state of r as JSON.
func StateHandler(r *Reader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(r.Current()); err != nil {
			http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		}
	})
}
