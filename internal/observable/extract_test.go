package observable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const networkEvent = `{
	"src_endpoint": {"ip": "10.0.0.5", "hostname": "WS01.corp.example"},
	"dst_endpoint": {"ip": "203.0.113.9", "hostname": "evil.example"},
	"device": {"ip": "10.0.0.5"},
	"url": "https://evil.example:8443/payload",
	"http_request": {"url": "not a url"},
	"file": {"hashes": {"md5": "D41D8CD98F00B204E9800998ECF8427E", "bogus": "xyz"}},
	"actor": {"user": {"email_addr": "victim@corp.example"}},
	"user": {"email_addr": "invalid@"}
}`

func TestExtractAll(t *testing.T) {
	got, err := Extract([]byte(networkEvent), AllTypes())
	require.NoError(t, err)

	assert.Equal(t, []Observable{
		{Type: TypeIP, Value: "10.0.0.5"},
		{Type: TypeIP, Value: "203.0.113.9"},
		{Type: TypeDomain, Value: "ws01.corp.example"},
		{Type: TypeDomain, Value: "evil.example"},
		{Type: TypeHash, Value: "d41d8cd98f00b204e9800998ecf8427e"},
		{Type: TypeURL, Value: "https://evil.example:8443/payload"},
		{Type: TypeEmail, Value: "victim@corp.example"},
	}, got)
}

func TestExtractSelectedTypes(t *testing.T) {
	got, err := Extract([]byte(networkEvent), Types{IPs: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, obs := range got {
		assert.Equal(t, TypeIP, obs.Type)
	}

	got, err = Extract([]byte(networkEvent), Types{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtractProcessHashes(t *testing.T) {
	ev := `{"process": {"file": {"hashes": {
		"sha256": "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		"sha1": "da39a3ee5e6b4b0d3255bfef95601890afd80709"
	}}}}`
	got, err := Extract([]byte(ev), Types{Hashes: true})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"da39a3ee5e6b4b0d3255bfef95601890afd80709",
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	}, Values(got))
}

func TestExtractInvalidJSON(t *testing.T) {
	_, err := Extract([]byte("{not json"), AllTypes())
	assert.Error(t, err)
}

func TestValuesDeduplicatesAcrossTypes(t *testing.T) {
	obs := []Observable{
		{Type: TypeDomain, Value: "evil.example"},
		{Type: TypeURL, Value: "evil.example"},
		{Type: TypeIP, Value: "1.2.3.4"},
	}
	assert.Equal(t, []string{"evil.example", "1.2.3.4"}, Values(obs))
}
