package notify

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// PushProtocolVersion is sent with every push request. The server answers
// with CodeVersionMismatch if it speaks a different version.
const PushProtocolVersion = 1

// Push server response codes.
const (
	CodeOK              = 0
	CodeDatabaseError   = 1
	CodeAuthError       = 2
	CodeIllegalMessage  = 3
	CodeVersionMismatch = 4
)

const keyInfo = "txguard push payload v1"

// PushTransport posts end-to-end encrypted notifications to a push
// server. Subject and body are sealed with a key derived from the shared
// secret, so the server only relays ciphertext.
type PushTransport struct {
	serverURL string
	username  string
	password  string
	key       []byte
	client    *http.Client
}

type pushRequest struct {
	Version  int    `json:"version"`
	Username string `json:"username"`
	Password string `json:"password"`
	Channel  string `json:"channel"`
	Payload  string `json:"payload"` // base64(nonce || ciphertext)
}

type pushResponse struct {
	Code int `json:"code"`
}

type pushPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewPushTransport creates a PushTransport.
func NewPushTransport(serverURL, username, password, sharedSecret string) (*PushTransport, error) {
	if serverURL == "" {
		return nil, errors.New("push server url is required")
	}
	if sharedSecret == "" {
		return nil, errors.New("push shared secret is required")
	}
	key, err := deriveKey(sharedSecret)
	if err != nil {
		return nil, err
	}
	return &PushTransport{
		serverURL: serverURL,
		username:  username,
		password:  password,
		key:       key,
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (t *PushTransport) Kind() string { return "push" }

// Deliver implements Transport.
func (t *PushTransport) Deliver(ctx context.Context, subject, body, channel string) Outcome {
	sealed, err := seal(t.key, channel, pushPayload{Subject: subject, Body: body})
	if err != nil {
		return failed(MalformedMessage, err)
	}

	data, err := json.Marshal(pushRequest{
		Version:  PushProtocolVersion,
		Username: t.username,
		Password: t.password,
		Channel:  channel,
		Payload:  sealed,
	})
	if err != nil {
		return failed(MalformedMessage, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serverURL, bytes.NewReader(data))
	if err != nil {
		return failed(MalformedMessage, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return failed(ConnectionError, fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return failed(AuthFailure, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return serverFailed(resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode))
	}

	var pr pushResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&pr); err != nil {
		return serverFailed(resp.StatusCode, fmt.Errorf("decoding response: %w", err))
	}

	switch pr.Code {
	case CodeOK:
		return delivered()
	case CodeAuthError:
		return failed(AuthFailure, nil)
	case CodeIllegalMessage:
		return failed(MalformedMessage, nil)
	case CodeVersionMismatch:
		return failed(VersionMismatch, nil)
	default:
		return serverFailed(pr.Code, nil)
	}
}

func deriveKey(sharedSecret string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(sharedSecret), nil, []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving push key: %w", err)
	}
	return key, nil
}

// seal encrypts p, binding it to channel as associated data.
func seal(key []byte, channel string, p pushPayload) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	plain, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, plain, []byte(channel))
	return base64.StdEncoding.EncodeToString(out), nil
}

// OpenPushPayload decrypts a payload produced by PushTransport. Receivers
// use it with the same shared secret and channel.
func OpenPushPayload(sharedSecret, channel, payload string) (subject, body string, err error) {
	key, err := deriveKey(sharedSecret)
	if err != nil {
		return "", "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", "", fmt.Errorf("creating cipher: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", "", fmt.Errorf("decoding payload: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", "", errors.New("payload too short")
	}
	plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], []byte(channel))
	if err != nil {
		return "", "", fmt.Errorf("opening payload: %w", err)
	}
	var p pushPayload
	if err := json.Unmarshal(plain, &p); err != nil {
		return "", "", fmt.Errorf("decoding payload: %w", err)
	}
	return p.Subject, p.Body, nil
}
