/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"fmt"
	"strconv"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v3"
)

// ByteSize represents a size in bytes.
// It may be specified either as an integer or as a human-readable string ("250M", "1Gi").
type ByteSize uint64

// ParseByteSize parses a human-readable size. Kubernetes-style power-of-two suffixes ("Ki", "Mi") are accepted.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return ByteSize(n), nil
	}
	for _, k8sSuffix := range [...]string{"Ki", "Mi", "Gi", "Ti", "Pi", "Ei"} {
		if strings.HasSuffix(s, k8sSuffix) {
			s = s[:len(s)-1]
			break
		}
	}
	n, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, err
	}
	return ByteSize(n), nil
}

// UnmarshalText implements encoding.TextUnmarshaler interface.
func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// UnmarshalYAML allows decoding from both integers and human-readable strings.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		if n < 0 {
			return fmt.Errorf("negative byte size %d", n)
		}
		*b = ByteSize(n)
		return nil
	}
	return b.UnmarshalText([]byte(value.Value))
}

// MarshalText implements encoding.TextMarshaler interface.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b ByteSize) String() string {
	return bytefmt.ByteSize(uint64(b))
}
