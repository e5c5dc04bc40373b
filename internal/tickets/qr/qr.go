package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"

	"github.com/skip2/go-qrcode"
)

var ErrInvalidPayload = errors.New("invalid ticket payload")

// Payload is what a scanner reads off the code.
type Payload struct {
	TicketID string `json:"tid"`
	Code     string `json:"code"`
	EventID  string `json:"eid"`
}

// Generator seals ticket payloads with AES-GCM and renders them as PNG QR
// codes. Sealing means a scanner can trust a decoded payload.
type Generator struct {
	aead cipher.AEAD
}

func NewGenerator(secret string) (*Generator, error) {
	key := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Generator{aead: aead}, nil
}

// Seal returns the URL-safe encrypted form of p.
func (g *Generator) Seal(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := g.aead.Seal(nonce, nonce, data, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (g *Generator) Open(token string) (Payload, error) {
	var p Payload
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < g.aead.NonceSize() {
		return p, ErrInvalidPayload
	}
	nonce, sealed := raw[:g.aead.NonceSize()], raw[g.aead.NonceSize():]
	data, err := g.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return p, ErrInvalidPayload
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, ErrInvalidPayload
	}
	return p, nil
}

// PNG renders the sealed payload as a 256px QR image.
func (g *Generator) PNG(p Payload) ([]byte, error) {
	token, err := g.Seal(p)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, 256)
}
