// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package wxpay

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/leafkit/leaf/internal/event"
	"github.com/leafkit/leaf/pkg/errutil"
)

// RouteGroupName names the notification routes in logs and metrics.
const RouteGroupName = "wxpay"

// EventNotify is notified for every verified payment notification. The
// keyword argument "params" holds the notification Params.
const EventNotify = "wxpay.notify"

const maxBody = 1 << 20

// NewNotifyEvent declares EventNotify.
func NewNotifyEvent() *event.Event {
	return event.New(EventNotify,
		event.Args{Keyword: map[string]any{"params": Params{}}},
		"a verified wxpay payment notification was received")
}

// Notifier delivers payment notifications to hooks.
type Notifier interface {
	Notify(ctx context.Context, id string, args event.Args) error
}

// Routes serves the merchant notify_url:
//
//	POST /notify  payment result notification
type Routes struct {
	sign   *Signature
	bus    Notifier
	logger *slog.Logger
}

// NewRoutes builds the notification routes.
func NewRoutes(sign *Signature, bus Notifier, logger *slog.Logger) *Routes {
	if logger == nil {
		logger = slog.Default()
	}
	return &Routes{sign: sign, bus: bus, logger: logger}
}

// Name implements the server route group contract.
func (rt *Routes) Name() string { return RouteGroupName }

// Mount implements the server route group contract.
func (rt *Routes) Mount(r *mux.Router) {
	r.HandleFunc("/notify", rt.notify).Methods(http.MethodPost)
}

func (rt *Routes) notify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		reply(w, http.StatusBadRequest, "FAIL", "unreadable body")
		return
	}
	params, err := DecodeParams(body)
	if err != nil {
		errutil.LogError(rt.logger, "wxpay notification rejected", err)
		reply(w, http.StatusBadRequest, "FAIL", "malformed payload")
		return
	}
	if err := rt.sign.Verify(params); err != nil {
		errutil.LogError(rt.logger, "wxpay notification rejected", err)
		reply(w, http.StatusBadRequest, "FAIL", "invalid signature")
		return
	}

	rt.logger.Info("wxpay notification received",
		"out_trade_no", params["out_trade_no"],
		"result_code", params["result_code"])
	if rt.bus != nil {
		args := event.Args{Keyword: map[string]any{"params": params}}
		if err := rt.bus.Notify(r.Context(), EventNotify, args); err != nil {
			errutil.LogErrors(rt.logger, "wxpay notification hooks failed", err)
		}
	}
	reply(w, http.StatusOK, success, "OK")
}

func reply(w http.ResponseWriter, status int, code, msg string) {
	body, _ := Params{"return_code": code, "return_msg": msg}.Encode()
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
