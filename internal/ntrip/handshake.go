// SPDX-License-Identifier: MIT

package ntrip

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rtnav/rtnavd/internal/config"
)

const clientAgent = "NTRIP rtnavd/1.0"

// Caster response markers, per the NTRIP 1.0/2.0 conventions.
const (
	rspOK          = "ICY 200 OK"
	rspSourceTable = "SOURCETABLE 200 OK"
	rspHTTPPrefix  = "HTTP/"
	rspErrorPrefix = "ERROR"
)

var (
	// ErrAuthRejected means the caster refused the credential pair. The
	// session treats this as terminal.
	ErrAuthRejected = errors.New("ntrip: authentication rejected")
	// ErrNoMountpoint means the caster answered with its source table,
	// which is how casters report an unknown mountpoint.
	ErrNoMountpoint = errors.New("ntrip: mountpoint not found (source table received)")
)

// writeRequest sends the NTRIP client request for the station's mountpoint.
func writeRequest(w io.Writer, st config.Station) error {
	var b strings.Builder
	fmt.Fprintf(&b, "GET /%s HTTP/1.0\r\n", st.Mount)
	fmt.Fprintf(&b, "Host: %s\r\n", st.Addr())
	fmt.Fprintf(&b, "User-Agent: %s\r\n", clientAgent)
	if st.HasCredentials() {
		cred := base64.StdEncoding.EncodeToString([]byte(st.Username + ":" + st.Password))
		fmt.Fprintf(&b, "Authorization: Basic %s\r\n", cred)
	} else {
		b.WriteString("Accept: */*\r\n")
		b.WriteString("Connection: close\r\n")
	}
	b.WriteString("\r\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// readResponse classifies the caster's reply. On success the reader is
// positioned at the start of the correction byte stream.
func readResponse(r *bufio.Reader) error {
	line, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("ntrip: read response: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")

	switch {
	case strings.HasPrefix(line, rspOK):
		return nil

	case strings.HasPrefix(line, rspSourceTable):
		return ErrNoMountpoint

	case strings.HasPrefix(line, rspHTTPPrefix):
		if strings.Contains(line, " 401 ") || strings.Contains(line, " 403 ") {
			return ErrAuthRejected
		}
		if strings.Contains(line, " 200 ") {
			// NTRIP 2 speaks plain HTTP; drain the header block.
			return drainHeaders(r)
		}
		return fmt.Errorf("ntrip: caster rejected request: %s", line)

	case strings.HasPrefix(line, rspErrorPrefix):
		if strings.Contains(strings.ToLower(line), "password") {
			return ErrAuthRejected
		}
		return fmt.Errorf("ntrip: caster error: %s", line)

	default:
		return fmt.Errorf("ntrip: unexpected response: %q", line)
	}
}

func drainHeaders(r *bufio.Reader) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return fmt.Errorf("ntrip: read headers: %w", err)
		}
		if line == "\r\n" || line == "\n" {
			return nil
		}
	}
}
