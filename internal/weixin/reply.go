// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package weixin

import (
	"crypto/rand"
	"encoding/xml"
	"math/big"
	"strconv"
	"time"

	"github.com/samber/oops"
)

// Message types.
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeEvent = "event"
)

// CDATA marshals as a character data section.
type CDATA struct {
	Value string `xml:",cdata"`
}

// Incoming is a decrypted message or event pushed by the platform.
type Incoming struct {
	XMLName      xml.Name `xml:"xml" json:"-"`
	ToUserName   string   `xml:"ToUserName" json:"to"`
	FromUserName string   `xml:"FromUserName" json:"from"`
	CreateTime   int64    `xml:"CreateTime" json:"create_time"`
	MsgType      string   `xml:"MsgType" json:"type"`
	Content      string   `xml:"Content,omitempty" json:"content,omitempty"`
	MediaID      string   `xml:"MediaId,omitempty" json:"media_id,omitempty"`
	PicURL       string   `xml:"PicUrl,omitempty" json:"pic_url,omitempty"`
	MsgID        int64    `xml:"MsgId,omitempty" json:"msg_id,omitempty"`
	Event        string   `xml:"Event,omitempty" json:"event,omitempty"`
	EventKey     string   `xml:"EventKey,omitempty" json:"event_key,omitempty"`
}

// envelope is the encrypted form used in both directions.
type envelope struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   string   `xml:"ToUserName,omitempty"`
	Encrypt      CDATA    `xml:"Encrypt"`
	MsgSignature string   `xml:"MsgSignature,omitempty"`
	TimeStamp    string   `xml:"TimeStamp,omitempty"`
	Nonce        string   `xml:"Nonce,omitempty"`
}

type outgoing struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   CDATA    `xml:"ToUserName"`
	FromUserName CDATA    `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      CDATA    `xml:"MsgType"`
	Content      *CDATA   `xml:"Content,omitempty"`
	Image        *media   `xml:"Image,omitempty"`
}

type media struct {
	MediaID CDATA `xml:"MediaId"`
}

// Message builds encrypted passive replies.
type Message struct {
	enc *Encryptor
	now func() time.Time
}

// NewMessage creates a reply builder.
func NewMessage(enc *Encryptor) *Message {
	return &Message{enc: enc, now: time.Now}
}

// Text replies with a text message. to and from are swapped relative to
// the incoming message.
func (m *Message) Text(to, from, content string) ([]byte, error) {
	return m.seal(outgoing{
		ToUserName:   CDATA{to},
		FromUserName: CDATA{from},
		MsgType:      CDATA{TypeText},
		Content:      &CDATA{content},
	})
}

// Image replies with a previously uploaded media item.
func (m *Message) Image(to, from, mediaID string) ([]byte, error) {
	return m.seal(outgoing{
		ToUserName:   CDATA{to},
		FromUserName: CDATA{from},
		MsgType:      CDATA{TypeImage},
		Image:        &media{MediaID: CDATA{mediaID}},
	})
}

// Reply answers in with a text message from the receiving account.
func (m *Message) Reply(in Incoming, content string) ([]byte, error) {
	return m.Text(in.FromUserName, in.ToUserName, content)
}

func (m *Message) seal(out outgoing) ([]byte, error) {
	now := m.now()
	out.CreateTime = now.Unix()
	plain, err := xml.Marshal(out)
	if err != nil {
		return nil, oops.In("weixin").Wrapf(err, "marshal reply")
	}
	encrypted, err := m.enc.Encrypt(plain)
	if err != nil {
		return nil, err
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	timestamp := strconv.FormatInt(now.Unix(), 10)
	body, err := xml.Marshal(envelope{
		Encrypt:      CDATA{encrypted},
		MsgSignature: m.enc.Sign(timestamp, nonce, encrypted),
		TimeStamp:    timestamp,
		Nonce:        nonce,
	})
	if err != nil {
		return nil, oops.In("weixin").Wrapf(err, "marshal envelope")
	}
	return body, nil
}

// Event decodes encrypted callbacks.
type Event struct {
	enc *Encryptor
}

// NewEvent creates a callback decoder.
func NewEvent(enc *Encryptor) *Event {
	return &Event{enc: enc}
}

// Parse verifies msgSignature over the envelope in body, decrypts it and
// decodes the inner message.
func (e *Event) Parse(body []byte, msgSignature, timestamp, nonce string) (Incoming, error) {
	var env envelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return Incoming{}, oops.Code(KindDecryptFailed.Code).Wrapf(err, "decode envelope")
	}
	if err := e.enc.Verify(msgSignature, timestamp, nonce, env.Encrypt.Value); err != nil {
		return Incoming{}, err
	}
	plain, err := e.enc.Decrypt(env.Encrypt.Value)
	if err != nil {
		return Incoming{}, err
	}
	var in Incoming
	if err := xml.Unmarshal(plain, &in); err != nil {
		return Incoming{}, oops.Code(KindDecryptFailed.Code).Wrapf(err, "decode message")
	}
	return in, nil
}

// Seal encrypts a raw inner message into a callback envelope, as the
// platform would send it.
func (e *Event) Seal(inner []byte, timestamp, nonce string) ([]byte, string, error) {
	encrypted, err := e.enc.Encrypt(inner)
	if err != nil {
		return nil, "", err
	}
	body, err := xml.Marshal(envelope{ToUserName: e.enc.AppID(), Encrypt: CDATA{encrypted}})
	if err != nil {
		return nil, "", oops.In("weixin").Wrap(err)
	}
	return body, e.enc.Sign(timestamp, nonce, encrypted), nil
}

func randomNonce() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000_000))
	if err != nil {
		return "", oops.In("weixin").Wrapf(err, "generate nonce")
	}
	return n.String(), nil
}
