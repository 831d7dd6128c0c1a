// SPDX-License-Identifier: MIT

package ntrip

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtnav/rtnavd/internal/config"
)

func TestWriteRequestWithCredentials(t *testing.T) {
	st := config.Station{
		Host: "caster.example.com", Port: 2101, Mount: "MOUNT1",
		Username: "alice", Password: "secret",
	}

	var b strings.Builder
	require.NoError(t, writeRequest(&b, st))
	req := b.String()

	assert.True(t, strings.HasPrefix(req, "GET /MOUNT1 HTTP/1.0\r\n"))
	assert.Contains(t, req, "Host: caster.example.com:2101\r\n")
	assert.Contains(t, req, "User-Agent: "+clientAgent+"\r\n")
	// base64("alice:secret")
	assert.Contains(t, req, "Authorization: Basic YWxpY2U6c2VjcmV0\r\n")
	assert.True(t, strings.HasSuffix(req, "\r\n\r\n"))
}

func TestWriteRequestAnonymous(t *testing.T) {
	st := config.Station{Host: "caster.example.com", Port: 2101, Mount: "OPEN"}

	var b strings.Builder
	require.NoError(t, writeRequest(&b, st))
	req := b.String()

	assert.NotContains(t, req, "Authorization")
	assert.Contains(t, req, "Connection: close\r\n")
}

func TestReadResponse(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
		ok      bool
	}{
		{"ntrip 1 accept", "ICY 200 OK\r\n", nil, true},
		{"unknown mountpoint", "SOURCETABLE 200 OK\r\nContent-Type: text/plain\r\n", ErrNoMountpoint, false},
		{"basic auth rejected", "HTTP/1.0 401 Unauthorized\r\n", ErrAuthRejected, false},
		{"forbidden", "HTTP/1.1 403 Forbidden\r\n", ErrAuthRejected, false},
		{"bad password", "ERROR - Bad Password\r\n", ErrAuthRejected, false},
		{"ntrip 2 accept drains headers", "HTTP/1.1 200 OK\r\nContent-Type: gnss/data\r\n\r\n", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := readResponse(bufio.NewReader(strings.NewReader(tt.payload)))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestReadResponseGarbage(t *testing.T) {
	err := readResponse(bufio.NewReader(strings.NewReader("\x00\x01\x02garbage\r\n")))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthRejected)
}
