package destination

import (
	"encoding/json"
	"net"
	"strconv"
	"strings"
)

// Payload is a destination submission. Token is only read for HEC.
type Payload struct {
	Type     string     `json:"type"`
	Name     string     `json:"name"`
	URL      string     `json:"url,omitempty"`
	Token    string     `json:"token,omitempty"`
	IP       string     `json:"ip,omitempty"`
	Port     PortNumber `json:"port,omitempty"`
	Protocol string     `json:"protocol,omitempty"`
}

// PortNumber accepts a JSON number or a numeric string.
type PortNumber int

func (p *PortNumber) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return &ValidationError{Message: "port must be a number"}
		}
		n = json.Number(strings.TrimSpace(s))
	}
	if n == "" {
		*p = 0
		return nil
	}
	v, err := strconv.Atoi(n.String())
	if err != nil {
		return &ValidationError{Message: "port must be a number"}
	}
	*p = PortNumber(v)
	return nil
}

const (
	msgHECRequired    = "name, url and token are required"
	msgSyslogRequired = "name, ip, port, protocol (UDP/TCP) are required"
	msgPortRange      = "port must be between 1 and 65535"
)

// validated is a payload after validation and normalization.
type validated struct {
	typ   Type
	name  string
	token string
	conn  Connection
}

func (p Payload) validate() (validated, error) {
	t, err := ParseType(p.Type)
	if err != nil {
		return validated{}, err
	}
	name := strings.TrimSpace(p.Name)

	switch t {
	case TypeHEC:
		url := strings.TrimSpace(p.URL)
		if name == "" || url == "" || p.Token == "" {
			return validated{}, &ValidationError{Message: msgHECRequired}
		}
		return validated{typ: t, name: name, token: p.Token, conn: HecConnection{URL: NormalizeHECURL(url)}}, nil

	default:
		ip := strings.TrimSpace(p.IP)
		protocol := Protocol(strings.ToUpper(strings.TrimSpace(p.Protocol)))
		if name == "" || ip == "" || p.Port == 0 || (protocol != ProtocolTCP && protocol != ProtocolUDP) {
			return validated{}, &ValidationError{Message: msgSyslogRequired}
		}
		if p.Port < 1 || p.Port > 65535 {
			return validated{}, &ValidationError{Message: msgPortRange}
		}
		return validated{typ: t, name: name, conn: SyslogConnection{IP: ip, Port: uint16(p.Port), Protocol: protocol}}, nil
	}
}

// NormalizeHECURL trims trailing slashes and appends /services/collector
// unless the URL already ends in /event or /raw or contains /services/collector.
func NormalizeHECURL(raw string) string {
	base := strings.TrimRight(raw, "/")
	if base == "" {
		return base
	}
	if strings.HasSuffix(base, "/event") || strings.HasSuffix(base, "/raw") || strings.Contains(base, "/services/collector") {
		return base
	}
	return base + "/services/collector"
}

func joinHostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
