package fsapi

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// tokenKey is the symmetric key the provider uses to wrap transfer
// tokens. It is a protocol constant published by FS, not a credential.
const tokenKey = "fstockencryptkey"

// ErrMalformedTokenEnvelope is returned when a token response cannot be
// split into its ciphertext and IV segments.
var ErrMalformedTokenEnvelope = errors.New("malformed token envelope")

// TokenFormat selects the representation of the decoded transfer token.
// The two observed provider revisions disagree: the earlier one accepts
// the token as-is, the later one requires it formatted as an integer.
type TokenFormat string

const (
	TokenFormatString  TokenFormat = "string"
	TokenFormatNumeric TokenFormat = "numeric"
)

// TokenDecoder decodes the encrypted one-time transfer token envelope.
type TokenDecoder struct {
	key    []byte
	format TokenFormat
}

// NewTokenDecoder creates a decoder using the fixed protocol key.
func NewTokenDecoder(format TokenFormat) *TokenDecoder {
	if format == "" {
		format = TokenFormatString
	}
	return &TokenDecoder{
		key:    []byte(tokenKey),
		format: format,
	}
}

// Decode recovers the plaintext transfer token from the URL-encoded
// envelope returned by requestTransferToken. The envelope's first field
// is "base64(ciphertext);base64(iv)"; the plaintext is AES-CBC
// decrypted, then trailing NUL padding is stripped before whitespace
// (NULs are not whitespace, so the order matters).
func (d *TokenDecoder) Decode(envelope string) (string, error) {
	field, err := firstField(envelope)
	if err != nil {
		return "", err
	}

	segments := strings.SplitN(field, ";", 2)
	if len(segments) < 2 {
		return "", fmt.Errorf("%w: expected ciphertext and iv separated by ';'", ErrMalformedTokenEnvelope)
	}

	data, err := base64.StdEncoding.DecodeString(segments[0])
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", ErrMalformedTokenEnvelope, err)
	}
	iv, err := base64.StdEncoding.DecodeString(segments[1])
	if err != nil {
		return "", fmt.Errorf("%w: iv: %v", ErrMalformedTokenEnvelope, err)
	}

	block, err := aes.NewCipher(d.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return "", fmt.Errorf("%w: iv length %d", ErrMalformedTokenEnvelope, len(iv))
	}
	if len(data) == 0 || len(data)%block.BlockSize() != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d", ErrMalformedTokenEnvelope, len(data))
	}

	plaintext := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, data)

	token := strings.TrimSpace(strings.TrimRight(string(plaintext), "\x00"))
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrMalformedTokenEnvelope)
	}

	if d.format == TokenFormatNumeric {
		n, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return "", fmt.Errorf("token %q is not numeric: %w", token, err)
		}
		token = strconv.FormatInt(n, 10)
	}

	return token, nil
}

// firstField extracts the first tuple's first component from the
// URL-encoded envelope: everything before the first '=' of the first
// '&'-separated pair, unescaped.
func firstField(envelope string) (string, error) {
	if envelope == "" {
		return "", fmt.Errorf("%w: empty envelope", ErrMalformedTokenEnvelope)
	}
	pair := envelope
	if i := strings.IndexByte(pair, '&'); i >= 0 {
		pair = pair[:i]
	}
	if i := strings.IndexByte(pair, '='); i >= 0 {
		pair = pair[:i]
	}
	field, err := url.QueryUnescape(pair)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedTokenEnvelope, err)
	}
	if field == "" {
		return "", fmt.Errorf("%w: empty first field", ErrMalformedTokenEnvelope)
	}
	return field, nil
}
