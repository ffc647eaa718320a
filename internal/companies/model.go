package companies

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// StatusOnline is the only connectionStatus that makes a company selectable.
const StatusOnline = "Online"

const (
	fieldID            = "companyId"
	fieldName          = "companyName"
	fieldStatus        = "connectionStatus"
	fieldActive        = "isActive"
	fieldFinancialYear = "financialYear"
	fieldUserName      = "userName"
)

// Company is a tenant the signed-in user may operate under. Fields the
// portal does not interpret are kept so the persisted selection carries the
// full record returned by the API.
type Company struct {
	ID               string
	Name             string
	ConnectionStatus string
	IsActive         bool

	extra map[string]json.RawMessage
}

// New builds a company and derives its activity flag.
func New(id, name, status string) Company {
	return Company{ID: id, Name: name, ConnectionStatus: status, IsActive: status == StatusOnline}
}

// FinancialYear returns the reporting period label when the API supplies one.
func (c Company) FinancialYear() string {
	return c.extraString(fieldFinancialYear)
}

// UserName returns the operator label shown on the card when supplied.
func (c Company) UserName() string {
	return c.extraString(fieldUserName)
}

// StatusLabel is the text rendered next to the status dot.
func (c Company) StatusLabel() string {
	if c.IsActive {
		return "Online"
	}
	return "Offline"
}

func (c Company) extraString(key string) string {
	raw, ok := c.extra[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// UnmarshalJSON decodes an API record. companyName must be a string;
// companyId may be a string or a number. isActive is always recomputed.
func (c *Company) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errors.New("company: null record")
	}

	var out Company
	rawName, ok := fields[fieldName]
	if !ok {
		return errors.New("company: missing companyName")
	}
	if err := json.Unmarshal(rawName, &out.Name); err != nil {
		return fmt.Errorf("company: companyName: %w", err)
	}
	if rawStatus, ok := fields[fieldStatus]; ok && !isNull(rawStatus) {
		if err := json.Unmarshal(rawStatus, &out.ConnectionStatus); err != nil {
			return fmt.Errorf("company: connectionStatus: %w", err)
		}
	}
	if rawID, ok := fields[fieldID]; ok && !isNull(rawID) {
		id, err := decodeID(rawID)
		if err != nil {
			return err
		}
		out.ID = id
	}
	out.IsActive = out.ConnectionStatus == StatusOnline

	for key, raw := range fields {
		switch key {
		case fieldName, fieldStatus, fieldActive:
			continue
		}
		if out.extra == nil {
			out.extra = make(map[string]json.RawMessage)
		}
		out.extra[key] = raw
	}
	*c = out
	return nil
}

// MarshalJSON writes the record back with isActive appended. Unknown fields
// keep their original encoding, so numeric ids stay numeric.
func (c Company) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(key string, value []byte) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(value)
	}

	if raw, ok := c.extra[fieldID]; ok {
		write(fieldID, raw)
	} else if c.ID != "" {
		v, _ := json.Marshal(c.ID)
		write(fieldID, v)
	}
	name, err := json.Marshal(c.Name)
	if err != nil {
		return nil, err
	}
	write(fieldName, name)
	status, err := json.Marshal(c.ConnectionStatus)
	if err != nil {
		return nil, err
	}
	write(fieldStatus, status)

	keys := make([]string, 0, len(c.extra))
	for key := range c.extra {
		if key == fieldID {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		write(key, c.extra[key])
	}

	if c.IsActive {
		write(fieldActive, []byte("true"))
	} else {
		write(fieldActive, []byte("false"))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func decodeID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("company: companyId: %w", err)
	}
	return n.String(), nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
