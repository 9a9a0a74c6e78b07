package normalize

import (
	"encoding/json"
	"net/mail"
	"strings"
)

// ExtractAddress reads one participant from any of the shapes providers use:
// a bare string, an {address, name} object, a {value: [...]} wrapper or a list.
// Anything else yields a zero Address.
func ExtractAddress(v any) Address {
	addresses := ExtractAddresses(v)
	if len(addresses) == 0 {
		return Address{}
	}
	return addresses[0]
}

// ExtractAddresses reads a participant list from the same shapes as
// ExtractAddress. It never returns nil.
func ExtractAddresses(v any) []Address {
	result := []Address{}
	for _, address := range extract(decodeRaw(v)) {
		if address.Address != "" {
			result = append(result, address)
		}
	}
	return result
}

func decodeRaw(v any) any {
	var raw []byte
	switch value := v.(type) {
	case json.RawMessage:
		raw = value
	case []byte:
		raw = value
	default:
		return v
	}

	if len(raw) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	return decoded
}

func extract(v any) []Address {
	switch value := v.(type) {
	case string:
		return fromString(value)
	case []any:
		var list []Address
		for _, item := range value {
			list = append(list, extract(item)...)
		}
		return list
	case []string:
		var list []Address
		for _, item := range value {
			list = append(list, fromString(item)...)
		}
		return list
	case map[string]any:
		if inner, ok := value["value"]; ok {
			return extract(inner)
		}
		address := stringField(value, "address")
		if address == "" {
			address = stringField(value, "email")
		}
		if address == "" {
			return nil
		}
		name := stringField(value, "name")
		raw := stringField(value, "raw")
		if raw == "" {
			raw = formatRaw(name, address)
		}
		return []Address{{Address: strings.ToLower(strings.TrimSpace(address)), Name: strings.TrimSpace(name), Raw: raw}}
	default:
		return nil
	}
}

func fromString(value string) []Address {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	parsed, err := mail.ParseAddressList(value)
	if err != nil {
		// Keep unparseable strings that still look like an address.
		if strings.Contains(value, "@") && !strings.ContainsAny(value, " <>,") {
			return []Address{{Address: strings.ToLower(value), Raw: value}}
		}
		return nil
	}

	list := make([]Address, 0, len(parsed))
	for _, address := range parsed {
		list = append(list, fromMail(address))
	}
	return list
}

func fromMail(address *mail.Address) Address {
	return Address{
		Address: strings.ToLower(strings.TrimSpace(address.Address)),
		Name:    strings.TrimSpace(address.Name),
		Raw:     formatRaw(address.Name, address.Address),
	}
}

func formatRaw(name, address string) string {
	if name == "" {
		return address
	}
	return name + " <" + address + ">"
}

func stringField(m map[string]any, key string) string {
	if value, ok := m[key].(string); ok {
		return value
	}
	return ""
}
