// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package wxpay

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // the v2 API signs with MD5 by default
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"io"
	"sort"
	"strings"

	"github.com/samber/oops"
)

// Params is a flat API payload. On the wire it is <xml><k>v</k>...</xml>.
type Params map[string]string

// MarshalXML writes the params in key order.
func (p Params) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Local: "xml"}
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		el := xml.StartElement{Name: xml.Name{Local: k}}
		if err := e.EncodeElement(struct {
			Value string `xml:",cdata"`
		}{p[k]}, el); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// UnmarshalXML reads every child element of the root as a key.
func (p *Params) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	if *p == nil {
		*p = Params{}
	}
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var v string
			if err := d.DecodeElement(&v, &t); err != nil {
				return err
			}
			(*p)[t.Name.Local] = strings.TrimSpace(v)
		case xml.EndElement:
			return nil
		}
	}
}

// Encode marshals the params.
func (p Params) Encode() ([]byte, error) {
	return xml.Marshal(p)
}

// DecodeParams parses an API payload.
func DecodeParams(data []byte) (Params, error) {
	p := Params{}
	if err := xml.Unmarshal(data, &p); err != nil {
		return nil, oops.Code(KindRequestFailed.Code).Wrapf(err, "decode payload")
	}
	return p, nil
}

// Signature signs and verifies payloads with the merchant API key.
type Signature struct {
	key      string
	signType string
}

// NewSignature creates a signer. An empty signType means MD5.
func NewSignature(apiKey, signType string) *Signature {
	if signType == "" {
		signType = SignMD5
	}
	return &Signature{key: apiKey, signType: signType}
}

// Type returns the sign type.
func (s *Signature) Type() string { return s.signType }

// Sign computes the upper-case hex signature over the non-empty params
// except "sign", joined as sorted k=v pairs followed by key=<apikey>.
func (s *Signature) Sign(p Params) string {
	keys := make([]string, 0, len(p))
	for k, v := range p {
		if k == "sign" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p[k])
		b.WriteByte('&')
	}
	b.WriteString("key=")
	b.WriteString(s.key)

	var sum []byte
	if s.signType == SignHMACSHA256 {
		mac := hmac.New(sha256.New, []byte(s.key))
		mac.Write([]byte(b.String()))
		sum = mac.Sum(nil)
	} else {
		digest := md5.Sum([]byte(b.String())) //nolint:gosec // platform protocol
		sum = digest[:]
	}
	return strings.ToUpper(hex.EncodeToString(sum))
}

// Verify checks p["sign"].
func (s *Signature) Verify(p Params) error {
	got, ok := p["sign"]
	if !ok || got == "" {
		return oops.Code(KindSignatureInvalid.Code).Errorf("payload is not signed")
	}
	if !hmac.Equal([]byte(s.Sign(p)), []byte(got)) {
		return oops.Code(KindSignatureInvalid.Code).Errorf("signature mismatch")
	}
	return nil
}
