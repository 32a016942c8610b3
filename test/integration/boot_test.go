// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/onsi/gomega/gbytes"

	"github.com/leafkit/leaf/internal/boot"
	"github.com/leafkit/leaf/internal/config"
	"github.com/leafkit/leaf/internal/logging"
	"github.com/leafkit/leaf/internal/plugin"
	"github.com/leafkit/leaf/internal/store"
	"github.com/leafkit/leaf/internal/weixin"
)

const watcherManifest = `name: watcher
version: 1.0.0
type: lua
description: Logs weixin messages and process exit.
autorun: true
events:
  - leaf.exit
  - weixin.*
lua-plugin:
  entry: main.lua
`

const watcherScript = `
function init()
  leaf.hook("leaf.exit")
  leaf.hook("weixin.message")
end

function on_event(id, args)
  if id == "weixin.message" then
    leaf.kv_set("last", id)
  end
  leaf.log("info", "watcher saw " .. id)
end
`

var _ = Describe("Booting Leaf", Ordered, func() {
	var (
		leaf    *boot.Init
		logs    *gbytes.Buffer
		baseURL string
		errCh   <-chan error
	)

	BeforeAll(func() {
		pluginDir := GinkgoT().TempDir()
		Expect(os.MkdirAll(filepath.Join(pluginDir, "watcher"), 0o750)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(pluginDir, "watcher", plugin.ManifestFile), []byte(watcherManifest), 0o600)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(pluginDir, "watcher", "main.lua"), []byte(watcherScript), 0o600)).To(Succeed())

		cfg := config.Default()
		cfg.Server.Addr = "127.0.0.1:0"
		cfg.Logging.Level = "debug"
		cfg.Database.URL = databaseURL
		cfg.Plugins.Directory = pluginDir
		cfg.Weixin = weixin.Config{
			AppID:  "wx1234567890",
			Token:  "leaftoken",
			AESKey: "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFG",
		}

		logs = gbytes.NewBuffer()
		leaf = boot.New(nil,
			boot.WithVersion("1.0.0"),
			boot.WithLoggingOptions(logging.WithConsoleWriter(io.MultiWriter(logs, GinkgoWriter))))

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		Expect(leaf.Run(ctx, cfg)).To(Succeed())

		var err error
		errCh, err = leaf.Modules().Server().Start()
		Expect(err).NotTo(HaveOccurred())
		baseURL = "http://" + leaf.Modules().Server().Addr()
	})

	AfterAll(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = leaf.Exit(ctx, "test")
	})

	get := func(path string) (int, string) {
		resp, err := http.Get(baseURL + path) //nolint:noctx // test helper
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp.StatusCode, string(body)
	}

	It("reports ready once the database answers", func() {
		Eventually(func() int {
			code, _ := get("/healthz/readiness")
			return code
		}).WithTimeout(10 * time.Second).Should(Equal(http.StatusOK))

		code, _ := get("/healthz/liveness")
		Expect(code).To(Equal(http.StatusOK))
	})

	It("serves the plugin admin routes", func() {
		code, body := get(boot.PluginsPrefix + "/")
		Expect(code).To(Equal(http.StatusOK))

		var list struct {
			Plugins []plugin.Info `json:"plugins"`
			Report  plugin.Report `json:"report"`
		}
		Expect(json.Unmarshal([]byte(body), &list)).To(Succeed())
		Expect(list.Report.Running).To(ConsistOf("watcher"))
		Expect(list.Plugins).To(HaveLen(1))
		Expect(list.Plugins[0].Type).To(Equal(plugin.TypeLua))
	})

	It("answers the weixin verification handshake", func() {
		enc, err := weixin.NewEncryptor(leaf.Modules().Config().Weixin)
		Expect(err).NotTo(HaveOccurred())

		q := url.Values{}
		q.Set("timestamp", "1700000000")
		q.Set("nonce", "n0nce")
		q.Set("echostr", "hello-leaf")
		q.Set("signature", enc.Sign("1700000000", "n0nce"))
		code, body := get("/weixin/?" + q.Encode())
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(Equal("hello-leaf"))

		q.Set("signature", "forged")
		code, _ = get("/weixin/?" + q.Encode())
		Expect(code).To(Equal(http.StatusForbidden))
	})

	It("delivers weixin messages to plugins", func() {
		inner := []byte(`<xml><ToUserName><![CDATA[wx1234567890]]></ToUserName>` +
			`<FromUserName><![CDATA[user-1]]></FromUserName><CreateTime>1700000000</CreateTime>` +
			`<MsgType><![CDATA[text]]></MsgType><Content><![CDATA[hi]]></Content><MsgId>1</MsgId></xml>`)
		body, sig, err := leaf.Modules().Weixin().Event.Seal(inner, "1700000000", "n0nce")
		Expect(err).NotTo(HaveOccurred())

		q := url.Values{}
		q.Set("timestamp", "1700000000")
		q.Set("nonce", "n0nce")
		q.Set("msg_signature", sig)
		resp, err := http.Post(baseURL+"/weixin/?"+q.Encode(), "text/xml", strings.NewReader(string(body))) //nolint:noctx // test helper
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		reply, _ := io.ReadAll(resp.Body)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(reply)).To(Equal("success"))

		Eventually(logs).Should(gbytes.Say("watcher saw weixin.message"))
	})

	It("exits once and records the stop", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		Expect(leaf.Exit(ctx, "signal")).To(Succeed())
		Expect(leaf.Exit(ctx, "again")).To(Succeed())
		Eventually(logs).Should(gbytes.Say("watcher saw leaf.exit"))
		Eventually(errCh).Should(BeClosed())

		dbConfig := store.DefaultConfig()
		dbConfig.URL = databaseURL
		pool, err := store.Open(ctx, dbConfig)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = pool.Stop(ctx) }()

		instances, err := pool.Instances(ctx, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(instances).NotTo(BeEmpty())
		Expect(instances[0].ID).To(Equal(leaf.Instance()))
		Expect(instances[0].Running()).To(BeFalse())
		Expect(instances[0].ExitReason).To(Equal("signal"))

		last, err := pool.KV().Get(ctx, "watcher", "last")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(last)).To(Equal("weixin.message"))
	})
})
