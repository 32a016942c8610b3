// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package wxpay

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/leafkit/leaf/internal/ids"
	leaftls "github.com/leafkit/leaf/internal/tls"
)

// Method is a payment method, sent as trade_type.
type Method string

// Payment methods.
const (
	JSAPI  Method = "JSAPI"
	Native Method = "NATIVE"
	InApp  Method = "APP"
)

// Methods lists every supported payment method.
func Methods() []Method { return []Method{JSAPI, Native, InApp} }

const success = "SUCCESS"

// maxResponse bounds API response bodies.
const maxResponse = 1 << 20

// Order is a unified order request.
type Order struct {
	OutTradeNo string
	Body       string
	TotalFee   int
	ClientIP   string
	// OpenID is required for JSAPI payments.
	OpenID    string
	ProductID string
	Attach    string
}

// Prepay is the result of a unified order.
type Prepay struct {
	PrepayID string
	CodeURL  string
	Raw      Params
}

// Payment places orders for one payment method.
type Payment struct {
	cfg      Config
	method   Method
	sign     *Signature
	http     *http.Client
	certHTTP *http.Client
	now      func() time.Time
}

// NewPayment creates a payment client. When cfg carries a certificate
// pair, refunds are sent over mutual TLS.
func NewPayment(cfg Config, method Method, sign *Signature) (*Payment, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	p := &Payment{
		cfg:    cfg,
		method: method,
		sign:   sign,
		http:   &http.Client{Timeout: timeout},
		now:    time.Now,
	}
	if cfg.CertFile != "" {
		tlsCfg, err := leaftls.LoadClientConfig(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, oops.Code(KindInvalidConfig.Code).With("field", "cert_file").Wrap(err)
		}
		p.certHTTP = &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		}
	}
	return p, nil
}

// Method returns the payment method.
func (p *Payment) Method() Method { return p.method }

// Order places a unified order.
func (p *Payment) Order(ctx context.Context, o Order) (Prepay, error) {
	if p.method == JSAPI && o.OpenID == "" {
		return Prepay{}, oops.Code(KindTradeFailed.Code).
			With("out_trade_no", o.OutTradeNo).
			Errorf("openid is required for JSAPI payments")
	}
	req := Params{
		"body":             o.Body,
		"out_trade_no":     o.OutTradeNo,
		"total_fee":        strconv.Itoa(o.TotalFee),
		"spbill_create_ip": o.ClientIP,
		"notify_url":       p.cfg.NotifyURL,
		"trade_type":       string(p.method),
		"openid":           o.OpenID,
		"product_id":       o.ProductID,
		"attach":           o.Attach,
	}
	resp, err := p.call(ctx, p.http, "/pay/unifiedorder", req)
	if err != nil {
		return Prepay{}, err
	}
	return Prepay{PrepayID: resp["prepay_id"], CodeURL: resp["code_url"], Raw: resp}, nil
}

// Query looks an order up by merchant trade number.
func (p *Payment) Query(ctx context.Context, outTradeNo string) (Params, error) {
	return p.call(ctx, p.http, "/pay/orderquery", Params{"out_trade_no": outTradeNo})
}

// Close closes an unpaid order.
func (p *Payment) Close(ctx context.Context, outTradeNo string) error {
	_, err := p.call(ctx, p.http, "/pay/closeorder", Params{"out_trade_no": outTradeNo})
	return err
}

// Refund requests a refund. It needs the merchant certificate.
func (p *Payment) Refund(ctx context.Context, outTradeNo, outRefundNo string, totalFee, refundFee int) (Params, error) {
	if p.certHTTP == nil {
		return nil, oops.Code(KindCertRequired.Code).
			With("out_trade_no", outTradeNo).
			Errorf("refunds need cert_file and key_file")
	}
	return p.call(ctx, p.certHTTP, "/secapi/pay/refund", Params{
		"out_trade_no":  outTradeNo,
		"out_refund_no": outRefundNo,
		"total_fee":     strconv.Itoa(totalFee),
		"refund_fee":    strconv.Itoa(refundFee),
	})
}

// BridgeParams returns the signed parameters a client passes to the
// in-page (JSAPI) or in-app payment bridge for prepayID.
func (p *Payment) BridgeParams(prepayID string) Params {
	ts := strconv.FormatInt(p.now().Unix(), 10)
	nonce := nonceStr()
	var out Params
	if p.method == InApp {
		out = Params{
			"appid":     p.cfg.AppID,
			"partnerid": p.cfg.MchID,
			"prepayid":  prepayID,
			"package":   "Sign=WXPay",
			"noncestr":  nonce,
			"timestamp": ts,
		}
		out["sign"] = p.sign.Sign(out)
		return out
	}
	out = Params{
		"appId":     p.cfg.AppID,
		"timeStamp": ts,
		"nonceStr":  nonce,
		"package":   "prepay_id=" + prepayID,
		"signType":  p.sign.Type(),
	}
	out["paySign"] = p.sign.Sign(out)
	return out
}

func (p *Payment) call(ctx context.Context, client *http.Client, path string, req Params) (Params, error) {
	req["appid"] = p.cfg.AppID
	req["mch_id"] = p.cfg.MchID
	req["nonce_str"] = nonceStr()
	if p.sign.Type() != SignMD5 {
		req["sign_type"] = p.sign.Type()
	}
	for k, v := range req {
		if v == "" {
			delete(req, k)
		}
	}
	req["sign"] = p.sign.Sign(req)

	body, err := req.Encode()
	if err != nil {
		return nil, oops.Code(KindRequestFailed.Code).With("path", path).Wrap(err)
	}
	url := strings.TrimRight(p.cfg.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, oops.Code(KindRequestFailed.Code).With("path", path).Wrap(err)
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, oops.Code(KindRequestFailed.Code).With("path", path).Wrap(err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return nil, oops.Code(KindRequestFailed.Code).
			With("path", path).
			With("status", httpResp.StatusCode).
			Errorf("payment API returned HTTP %d", httpResp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponse))
	if err != nil {
		return nil, oops.Code(KindRequestFailed.Code).With("path", path).Wrap(err)
	}
	resp, err := DecodeParams(data)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}

	if resp["return_code"] != success {
		return nil, oops.Code(KindTradeFailed.Code).
			With("path", path).
			With("return_code", resp["return_code"]).
			Errorf("payment API: %s", resp["return_msg"])
	}
	if err := p.sign.Verify(resp); err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	if resp["result_code"] != "" && resp["result_code"] != success {
		return nil, oops.Code(KindTradeFailed.Code).
			With("path", path).
			With("return_code", resp["return_code"]).
			With("err_code", resp["err_code"]).
			Errorf("payment API: %s", resp["err_code_des"])
	}
	return resp, nil
}

func nonceStr() string {
	return ids.New().String()
}
