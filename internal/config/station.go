// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Station describes one reference-station endpoint.
type Station struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Mount    string `yaml:"mount"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// ID returns the stable identifier used in logs, metrics and correction
// records.
func (s Station) ID() string {
	return fmt.Sprintf("%s@%s:%d", s.Mount, s.Host, s.Port)
}

// Addr returns the dial address.
func (s Station) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// HasCredentials reports whether the endpoint carries a credential pair.
func (s Station) HasCredentials() bool {
	return s.Username != "" || s.Password != ""
}

// defaultCasterPort is the conventional NTRIP caster port.
const defaultCasterPort = 2101

// ParseStation parses an endpoint of the form
//
//	host[:port]/mount[/user=NAME,password=SECRET]
//
// Port defaults to 2101 when omitted. The credential segment is optional.
func ParseStation(s string) (Station, error) {
	st := Station{Port: defaultCasterPort}

	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) < 2 {
		return Station{}, fmt.Errorf("station %q: want host[:port]/mount[/credentials]", s)
	}

	hostport := parts[0]
	if host, port, ok := strings.Cut(hostport, ":"); ok {
		p, err := strconv.Atoi(strings.TrimSpace(port))
		if err != nil || p <= 0 || p > 65535 {
			return Station{}, fmt.Errorf("station %q: invalid port %q", s, port)
		}
		st.Host = strings.TrimSpace(host)
		st.Port = p
	} else {
		st.Host = strings.TrimSpace(hostport)
	}
	if st.Host == "" {
		return Station{}, fmt.Errorf("station %q: empty host", s)
	}

	st.Mount = strings.TrimSpace(parts[1])
	if st.Mount == "" {
		return Station{}, fmt.Errorf("station %q: empty mountpoint", s)
	}

	if len(parts) > 2 {
		for _, item := range strings.Split(parts[2], ",") {
			item = strings.TrimSpace(item)
			switch {
			case strings.HasPrefix(item, "user="):
				st.Username = strings.TrimPrefix(item, "user=")
			case strings.HasPrefix(item, "password="):
				st.Password = strings.TrimPrefix(item, "password=")
			default:
				return Station{}, fmt.Errorf("station %q: unknown credential item %q", s, item)
			}
		}
	}

	return st, nil
}

// ParseStationList parses a comma-free, semicolon-separated endpoint list.
// Semicolons separate stations because commas already separate credential
// items within a station.
func ParseStationList(s string) ([]Station, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []Station
	for _, item := range strings.Split(s, ";") {
		if strings.TrimSpace(item) == "" {
			continue
		}
		st, err := ParseStation(item)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
