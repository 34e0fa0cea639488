package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/ports"
)

// EnvelopeKey is the variable holding the ciphertext of an encrypted state.
const EnvelopeKey = "__encrypted__"

// ErrNotEncrypted is returned when a stored state carries no encrypted envelope.
var ErrNotEncrypted = errors.New("state is missing encrypted data envelope")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are old keys tried when decryption with ActiveKey fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.ConversationStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts the state and the
// message contents using AES-GCM.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, errors.New("active key must be 32 bytes (AES-256)")
	}
	for i, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, fmt.Errorf("fallback key %d must be 32 bytes (AES-256)", i)
		}
	}
	return func(next ports.ConversationStore) ports.ConversationStore {
		return &encryptionMiddleware{next: next, config: config}
	}, nil
}

func (m *encryptionMiddleware) Save(ctx context.Context, req ports.SaveRequest) (string, error) {
	// 1. Serialize real state
	plainText, err := json.Marshal(req.State)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}

	// 2. Encrypt
	sealed, err := m.seal(plainText)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt state: %w", err)
	}

	// 3. Opaque envelope: only completion stays visible for monitoring.
	envelope := &domain.FlowState{
		Variables: map[string]any{EnvelopeKey: sealed},
		Completed: req.State != nil && req.State.Completed,
	}

	messages := make([]domain.Message, len(req.Messages))
	for i, msg := range req.Messages {
		content, err := m.seal([]byte(msg.Content))
		if err != nil {
			return "", fmt.Errorf("failed to encrypt message: %w", err)
		}
		msg.Content = content
		messages[i] = msg
	}

	req.State = envelope
	req.Messages = messages
	return m.next.Save(ctx, req)
}

func (m *encryptionMiddleware) Load(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	conv, err := m.next.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.State == nil {
		return nil, ErrNotEncrypted
	}
	sealed, ok := conv.State.Variables[EnvelopeKey].(string)
	if !ok {
		return nil, ErrNotEncrypted
	}

	plainText, err := m.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state: %w", err)
	}
	var state domain.FlowState
	if err := json.Unmarshal(plainText, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted state: %w", err)
	}

	out := *conv
	out.State = &state
	out.Messages = make([]domain.Message, len(conv.Messages))
	for i, msg := range conv.Messages {
		content, err := m.open(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt message %d: %w", i, err)
		}
		msg.Content = string(content)
		out.Messages[i] = msg
	}
	return &out, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, conversationID string) error {
	return m.next.Delete(ctx, conversationID)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *encryptionMiddleware) seal(plainText []byte) (string, error) {
	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (m *encryptionMiddleware) open(sealed string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	return decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
