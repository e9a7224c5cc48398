package util

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	assert.NotEmpty(t, v)
	assert.Equal(t, strings.TrimSpace(v), v)
	assert.True(t, strings.HasPrefix(GetNameAndVersion(), "stegofed / "))
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent("example.com")
	assert.True(t, strings.HasPrefix(ua, "stegofed/"))
	assert.Contains(t, ua, "https://example.com")
}

func TestPrettyPrint(t *testing.T) {
	assert.Contains(t, PrettyPrint(map[string]int{"a": 1}), "\"a\": 1")
}

func TestGeneratePemKeypair(t *testing.T) {
	keypair, err := GeneratePemKeypair(2048)
	require.NoError(t, err)

	privBlock, _ := pem.Decode([]byte(keypair.Private))
	require.NotNil(t, privBlock)
	assert.Equal(t, "RSA PRIVATE KEY", privBlock.Type)
	_, err = x509.ParsePKCS1PrivateKey(privBlock.Bytes)
	require.NoError(t, err)

	pubBlock, _ := pem.Decode([]byte(keypair.Public))
	require.NotNil(t, pubBlock)
	assert.Equal(t, "PUBLIC KEY", pubBlock.Type)
	_, err = x509.ParsePKIXPublicKey(pubBlock.Bytes)
	require.NoError(t, err)
}

func TestGeneratePemKeypairUniqueness(t *testing.T) {
	keypair1, err := GeneratePemKeypair(2048)
	require.NoError(t, err)
	keypair2, err := GeneratePemKeypair(2048)
	require.NoError(t, err)

	assert.NotEqual(t, keypair1.Private, keypair2.Private)
	assert.NotEqual(t, keypair1.Public, keypair2.Public)
}

func TestRenderMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
	}{
		{"paragraph", "hello world", "<p>hello world</p>"},
		{"link", "[docs](https://example.com)", `<a href="https://example.com">docs</a>`},
		{"emphasis", "*hi*", "<em>hi</em>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := RenderMarkdown(tt.input)
			require.NoError(t, err)
			assert.Contains(t, out, tt.contains)
		})
	}
}

func TestRenderMarkdownDropsRawHTML(t *testing.T) {
	out, err := RenderMarkdown("<script>alert(1)</script>")
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
}

func TestRenderMarkdownEmpty(t *testing.T) {
	out, err := RenderMarkdown("   ")
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn")
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), `"service":"stegofed"`)

	fallback := newLogger(&buf, "nonsense")
	assert.Equal(t, zerolog.InfoLevel, fallback.GetLevel())
}
