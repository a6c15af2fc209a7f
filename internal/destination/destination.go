// Package destination manages the operator's delivery destinations.
//
// A Destination is either an HTTP event collector (HEC) or a syslog listener.
// Descriptors are persisted as a JSON array of flat records. HEC tokens are
// kept in a credstore.Store under the destination id and never touch the
// descriptor file.
package destination

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type identifies the destination variant.
type Type string

const (
	TypeHEC    Type = "HEC"
	TypeSyslog Type = "SYSLOG"
)

// ParseType accepts a destination type in any case.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(TypeHEC):
		return TypeHEC, nil
	case string(TypeSyslog):
		return TypeSyslog, nil
	}
	return "", &ValidationError{Message: "Unsupported destination type"}
}

// idPrefix is the lower-case form used in ids and on disk.
func (t Type) idPrefix() string {
	return strings.ToLower(string(t))
}

// Protocol is the syslog transport protocol.
type Protocol string

const (
	ProtocolTCP Protocol = "TCP"
	ProtocolUDP Protocol = "UDP"
)

// Connection is the variant-specific part of a Destination.
// It is implemented only by HecConnection and SyslogConnection.
type Connection interface {
	isConnection()
}

// HecConnection locates an HTTP event collector. The token is stored under SecretRef.
type HecConnection struct {
	URL       string
	SecretRef string
}

// SyslogConnection locates a syslog listener.
type SyslogConnection struct {
	IP       string
	Port     uint16
	Protocol Protocol
}

func (HecConnection) isConnection()    {}
func (SyslogConnection) isConnection() {}

// Address returns host:port suitable for net.Dial.
func (c SyslogConnection) Address() string {
	return joinHostPort(c.IP, c.Port)
}

// Destination is a named delivery target.
type Destination struct {
	ID         string
	Type       Type
	Name       string
	Connection Connection
}

// view is the redacted API rendering of a Destination.
type view struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	URL      string `json:"url,omitempty"`
	IP       string `json:"ip,omitempty"`
	Port     uint16 `json:"port,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

// MarshalJSON renders the destination without any secret material:
// url for HEC, ip/port/protocol for syslog.
func (d Destination) MarshalJSON() ([]byte, error) {
	v := view{ID: d.ID, Name: d.Name, Type: d.Type}
	switch c := d.Connection.(type) {
	case HecConnection:
		v.URL = c.URL
	case SyslogConnection:
		v.IP, v.Port, v.Protocol = c.IP, c.Port, string(c.Protocol)
	}
	return json.Marshal(v)
}

// UnmarshalJSON reads the API rendering back, as used by API clients.
func (d *Destination) UnmarshalJSON(data []byte) error {
	var v view
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	t, err := ParseType(string(v.Type))
	if err != nil {
		return fmt.Errorf("destination %s: %w", v.ID, err)
	}
	*d = Destination{ID: v.ID, Name: v.Name, Type: t}
	if t == TypeHEC {
		d.Connection = HecConnection{URL: v.URL, SecretRef: v.ID}
	} else {
		d.Connection = SyslogConnection{IP: v.IP, Port: v.Port, Protocol: Protocol(strings.ToUpper(v.Protocol))}
	}
	return nil
}

// record is one entry of the persisted descriptor list.
type record struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	IP       string `json:"ip,omitempty"`
	Port     uint16 `json:"port,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

func toRecord(d Destination) record {
	r := record{ID: d.ID, Type: d.Type.idPrefix(), Name: d.Name}
	switch c := d.Connection.(type) {
	case HecConnection:
		r.URL = c.URL
	case SyslogConnection:
		r.IP, r.Port, r.Protocol = c.IP, c.Port, string(c.Protocol)
	}
	return r
}

func fromRecord(r record) (Destination, error) {
	t, err := ParseType(r.Type)
	if err != nil {
		return Destination{}, fmt.Errorf("record %q: unknown type %q", r.ID, r.Type)
	}
	d := Destination{ID: r.ID, Type: t, Name: r.Name}
	switch t {
	case TypeHEC:
		d.Connection = HecConnection{URL: r.URL, SecretRef: r.ID}
	case TypeSyslog:
		d.Connection = SyslogConnection{IP: r.IP, Port: r.Port, Protocol: Protocol(strings.ToUpper(r.Protocol))}
	}
	return d, nil
}
