// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package weixin

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/leafkit/leaf/internal/event"
	"github.com/leafkit/leaf/pkg/errutil"
)

// RouteGroupName names the callback routes in logs and metrics.
const RouteGroupName = "weixin"

// EventMessage is notified for every verified callback. The keyword
// argument "message" holds the decoded Incoming value.
const EventMessage = "weixin.message"

// maxBody bounds callback bodies.
const maxBody = 1 << 20

// NewMessageEvent declares EventMessage.
func NewMessageEvent() *event.Event {
	return event.New(EventMessage,
		event.Args{Keyword: map[string]any{"message": Incoming{}}},
		"a verified weixin callback message or event was received")
}

// Notifier delivers callback messages to hooks.
type Notifier interface {
	Notify(ctx context.Context, id string, args event.Args) error
}

// Routes serves the platform callback URL:
//
//	GET  /  server verification (echostr)
//	POST /  encrypted message push
type Routes struct {
	enc    *Encryptor
	events *Event
	bus    Notifier
	logger *slog.Logger
}

// NewRoutes builds the callback routes.
func NewRoutes(enc *Encryptor, bus Notifier, logger *slog.Logger) *Routes {
	if logger == nil {
		logger = slog.Default()
	}
	return &Routes{enc: enc, events: NewEvent(enc), bus: bus, logger: logger}
}

// Name implements the server route group contract.
func (rt *Routes) Name() string { return RouteGroupName }

// Mount implements the server route group contract.
func (rt *Routes) Mount(r *mux.Router) {
	r.HandleFunc("/", rt.verify).Methods(http.MethodGet)
	r.HandleFunc("/", rt.receive).Methods(http.MethodPost)
}

func (rt *Routes) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := rt.enc.Verify(q.Get("signature"), q.Get("timestamp"), q.Get("nonce")); err != nil {
		rt.logger.Warn("weixin verification rejected", "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, q.Get("echostr"))
}

func (rt *Routes) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	in, err := rt.events.Parse(body, q.Get("msg_signature"), q.Get("timestamp"), q.Get("nonce"))
	if err != nil {
		errutil.LogError(rt.logger, "weixin callback rejected", err)
		if KindSignatureMismatch.Is(err) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	rt.logger.Debug("weixin message received", "type", in.MsgType, "from", in.FromUserName)
	if rt.bus != nil {
		args := event.Args{Keyword: map[string]any{"message": in}}
		if err := rt.bus.Notify(r.Context(), EventMessage, args); err != nil {
			errutil.LogErrors(rt.logger, "weixin message hooks failed", err)
		}
	}

	// The platform retries unless it gets "success" or an empty body.
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "success")
}
