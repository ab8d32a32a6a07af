package config

import (
	"strconv"
	"strings"
	"time"
)

const defaultAcquireTimeout = 5 * time.Second

// Duration is a time.Duration that decodes from "1500ms" style strings in
// every supported config format. Bare JSON/YAML numbers are read as seconds.
type Duration time.Duration

func NewDuration(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		return d.UnmarshalText([]byte(unquoted))
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}
