// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package weixin_test

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafkit/leaf/internal/event"
	"github.com/leafkit/leaf/internal/weixin"
	"github.com/leafkit/leaf/pkg/errutil"
)

func testConfig() weixin.Config {
	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	return weixin.Config{AppID: "wx1234567890", Token: "leaftoken", AESKey: strings.TrimSuffix(key, "=")}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, testConfig().Validate())
	assert.True(t, testConfig().Enabled())
	assert.False(t, weixin.Config{}.Enabled())

	tests := []struct {
		name  string
		mut   func(*weixin.Config)
		field string
	}{
		{name: "missing appid", mut: func(c *weixin.Config) { c.AppID = "" }, field: "appid"},
		{name: "missing token", mut: func(c *weixin.Config) { c.Token = "" }, field: "token"},
		{name: "short key", mut: func(c *weixin.Config) { c.AESKey = "abc" }, field: "aeskey"},
		{name: "bad base64", mut: func(c *weixin.Config) { c.AESKey = strings.Repeat("!", 43) }, field: "aeskey"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mut(&cfg)
			err := cfg.Validate()
			errutil.AssertErrorCode(t, err, weixin.KindInvalidConfig.Code)
			errutil.AssertErrorContext(t, err, "field", tt.field)
		})
	}
}

func TestEncryptor_RoundTrip(t *testing.T) {
	enc, err := weixin.NewEncryptor(testConfig())
	require.NoError(t, err)

	for _, msg := range []string{"", "hello", strings.Repeat("leaf", 100)} {
		ct, err := enc.Encrypt([]byte(msg))
		require.NoError(t, err)
		pt, err := enc.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, msg, string(pt))
	}
}

func TestEncryptor_DecryptRejectsOtherApp(t *testing.T) {
	other := testConfig()
	other.AppID = "wxother"
	sender, err := weixin.NewEncryptor(other)
	require.NoError(t, err)
	receiver, err := weixin.NewEncryptor(testConfig())
	require.NoError(t, err)

	ct, err := sender.Encrypt([]byte("hi"))
	require.NoError(t, err)
	_, err = receiver.Decrypt(ct)
	errutil.AssertErrorCode(t, err, weixin.KindAppIDMismatch.Code)
	errutil.AssertErrorContext(t, err, "actual", "wxother")
}

func TestEncryptor_DecryptRejectsGarbage(t *testing.T) {
	enc, err := weixin.NewEncryptor(testConfig())
	require.NoError(t, err)

	_, err = enc.Decrypt("not base64!")
	errutil.AssertErrorCode(t, err, weixin.KindDecryptFailed.Code)
	_, err = enc.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	errutil.AssertErrorCode(t, err, weixin.KindDecryptFailed.Code)
}

func TestEncryptor_Signature(t *testing.T) {
	enc, err := weixin.NewEncryptor(testConfig())
	require.NoError(t, err)

	sig := enc.Sign("1700000000", "42")
	assert.Len(t, sig, 40)
	assert.Equal(t, sig, enc.Sign("42", "1700000000"), "parts are sorted before hashing")
	require.NoError(t, enc.Verify(sig, "1700000000", "42"))
	errutil.AssertErrorCode(t, enc.Verify(sig, "1700000001", "42"), weixin.KindSignatureMismatch.Code)
}

func TestMessage_TextReplyDecryptsToInnerMessage(t *testing.T) {
	suite, err := weixin.New(testConfig(), nil, nil)
	require.NoError(t, err)

	body, err := suite.Message.Reply(weixin.Incoming{ToUserName: "gh_account", FromUserName: "openid-1"}, "pong")
	require.NoError(t, err)

	var env struct {
		Encrypt      string `xml:"Encrypt"`
		MsgSignature string `xml:"MsgSignature"`
		TimeStamp    string `xml:"TimeStamp"`
		Nonce        string `xml:"Nonce"`
	}
	require.NoError(t, xml.Unmarshal(body, &env))
	require.NoError(t, suite.Encrypt.Verify(env.MsgSignature, env.TimeStamp, env.Nonce, env.Encrypt))

	plain, err := suite.Encrypt.Decrypt(env.Encrypt)
	require.NoError(t, err)
	var in weixin.Incoming
	require.NoError(t, xml.Unmarshal(plain, &in))
	assert.Equal(t, "openid-1", in.ToUserName)
	assert.Equal(t, "gh_account", in.FromUserName)
	assert.Equal(t, weixin.TypeText, in.MsgType)
	assert.Equal(t, "pong", in.Content)
}

func TestEvent_ParseRejectsBadSignature(t *testing.T) {
	suite, err := weixin.New(testConfig(), nil, nil)
	require.NoError(t, err)

	body, _, err := suite.Event.Seal([]byte(`<xml><MsgType>text</MsgType></xml>`), "1", "2")
	require.NoError(t, err)
	_, err = suite.Event.Parse(body, "deadbeef", "1", "2")
	errutil.AssertErrorCode(t, err, weixin.KindSignatureMismatch.Code)

	_, err = suite.Event.Parse([]byte("<xml"), "", "1", "2")
	errutil.AssertErrorCode(t, err, weixin.KindDecryptFailed.Code)
}

type recordingBus struct {
	ids  []string
	args []event.Args
}

func (b *recordingBus) Notify(_ context.Context, id string, args event.Args) error {
	b.ids = append(b.ids, id)
	b.args = append(b.args, args)
	return nil
}

func newRouter(t *testing.T, bus weixin.Notifier) (*weixin.Suite, *mux.Router) {
	t.Helper()
	suite, err := weixin.New(testConfig(), bus, nil)
	require.NoError(t, err)
	r := mux.NewRouter()
	suite.Routes.Mount(r.PathPrefix("/weixin").Subrouter())
	return suite, r
}

func TestRoutes_Verify(t *testing.T) {
	suite, r := newRouter(t, nil)
	assert.Equal(t, weixin.RouteGroupName, suite.Routes.Name())

	q := url.Values{
		"signature": {suite.Encrypt.Sign("1700000000", "99")},
		"timestamp": {"1700000000"},
		"nonce":     {"99"},
		"echostr":   {"echo-me"},
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/weixin/?"+q.Encode(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "echo-me", rec.Body.String())

	q.Set("signature", "wrong")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/weixin/?"+q.Encode(), nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRoutes_ReceiveNotifiesBus(t *testing.T) {
	bus := &recordingBus{}
	suite, r := newRouter(t, bus)

	inner := `<xml><ToUserName><![CDATA[gh_account]]></ToUserName>` +
		`<FromUserName><![CDATA[openid-1]]></FromUserName><CreateTime>1700000000</CreateTime>` +
		`<MsgType><![CDATA[text]]></MsgType><Content><![CDATA[ping]]></Content><MsgId>7</MsgId></xml>`
	body, sig, err := suite.Event.Seal([]byte(inner), "1700000000", "5")
	require.NoError(t, err)

	q := url.Values{"msg_signature": {sig}, "timestamp": {"1700000000"}, "nonce": {"5"}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/weixin/?"+q.Encode(), strings.NewReader(string(body)))
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	out, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "success", string(out))

	require.Equal(t, []string{weixin.EventMessage}, bus.ids)
	msg, ok := bus.args[0].Kwarg("message")
	require.True(t, ok)
	in := msg.(weixin.Incoming)
	assert.Equal(t, "openid-1", in.FromUserName)
	assert.Equal(t, "ping", in.Content)
	assert.Equal(t, int64(7), in.MsgID)
}

func TestRoutes_ReceiveRejectsForgedRequest(t *testing.T) {
	bus := &recordingBus{}
	suite, r := newRouter(t, bus)

	body, _, err := suite.Event.Seal([]byte(`<xml></xml>`), "1", "2")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/weixin/?msg_signature=forged&timestamp=1&nonce=2", strings.NewReader(string(body)))
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, bus.ids)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/weixin/", strings.NewReader("garbage")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNewMessageEvent(t *testing.T) {
	e := weixin.NewMessageEvent()
	assert.Equal(t, weixin.EventMessage, e.ID())
	require.NoError(t, event.ValidateName(e.ID()))
	assert.Len(t, weixin.Kinds(), 4)
}
