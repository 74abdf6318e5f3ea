package localddb

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Badger key layout:
//
//	t/<table>                                      table schema (JSON)
//	i/<table>\x00<len><partition key><len><sort key> item (JSON)
//
// Key values are length prefixed, so they may contain any byte.

func tableKey(name string) []byte {
	return []byte("t/" + name)
}

func itemPrefix(table string) []byte {
	return []byte("i/" + table + "\x00")
}

func (t *tableSchema) itemKey(key map[string]types.AttributeValue) ([]byte, error) {
	if len(key) != len(t.Keys) {
		return nil, validationError("The provided key element does not match the schema")
	}

	buf := bytes.NewBuffer(itemPrefix(t.Name))
	for _, k := range t.Keys {
		part, err := keyPart(k, key[k.Name])
		if err != nil {
			return nil, err
		}

		var n [binary.MaxVarintLen64]byte
		buf.Write(n[:binary.PutUvarint(n[:], uint64(len(part)))])
		buf.Write(part)
	}

	return buf.Bytes(), nil
}

// itemKeyFromItem encodes the key of a full item, ignoring non-key attributes.
func (t *tableSchema) itemKeyFromItem(item map[string]types.AttributeValue) ([]byte, error) {
	key := make(map[string]types.AttributeValue, len(t.Keys))
	for _, k := range t.Keys {
		v, ok := item[k.Name]
		if !ok {
			return nil, validationError("One of the required keys was not given a value: missing %s", k.Name)
		}
		key[k.Name] = v
	}

	return t.itemKey(key)
}

func keyPart(k keyAttribute, v types.AttributeValue) ([]byte, error) {
	mismatch := validationError("The provided key element does not match the schema: %s must be of type %s", k.Name, k.Type)

	switch k.Type {
	case types.ScalarAttributeTypeS:
		s, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return nil, mismatch
		}
		if s.Value == "" {
			return nil, validationError("The AttributeValue for a key attribute cannot contain an empty string value. Key: %s", k.Name)
		}
		return []byte(s.Value), nil
	case types.ScalarAttributeTypeN:
		n, ok := v.(*types.AttributeValueMemberN)
		if !ok {
			return nil, mismatch
		}
		canonical, err := canonicalNumber(n.Value)
		if err != nil {
			return nil, err
		}
		return []byte(canonical), nil
	case types.ScalarAttributeTypeB:
		b, ok := v.(*types.AttributeValueMemberB)
		if !ok {
			return nil, mismatch
		}
		return b.Value, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Type)
	}
}

func parseNumber(s string) (*big.Float, error) {
	f, ok := new(big.Float).SetPrec(128).SetString(s)
	if !ok {
		return nil, validationError("A value provided cannot be converted into a number: %q", s)
	}
	return f, nil
}

// canonicalNumber returns a representation of s shared by every spelling of
// the same number, so "2022" and "2022.0" address the same item.
func canonicalNumber(s string) (string, error) {
	f, err := parseNumber(s)
	if err != nil {
		return "", err
	}
	return f.Text('g', -1), nil
}

// storedValue is the JSON form of an attribute value, as in the DynamoDB wire
// format.
type storedValue struct {
	S    *string                `json:"S,omitempty"`
	N    *string                `json:"N,omitempty"`
	B    *[]byte                `json:"B,omitempty"`
	BOOL *bool                  `json:"BOOL,omitempty"`
	NULL bool                   `json:"NULL,omitempty"`
	SS   []string               `json:"SS,omitempty"`
	NS   []string               `json:"NS,omitempty"`
	BS   [][]byte               `json:"BS,omitempty"`
	L    *[]storedValue         `json:"L,omitempty"`
	M    map[string]storedValue `json:"M,omitempty"`
}

func toStored(av types.AttributeValue) (storedValue, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return storedValue{S: &v.Value}, nil
	case *types.AttributeValueMemberN:
		if _, err := parseNumber(v.Value); err != nil {
			return storedValue{}, err
		}
		return storedValue{N: &v.Value}, nil
	case *types.AttributeValueMemberB:
		b := v.Value
		if b == nil {
			b = []byte{}
		}
		return storedValue{B: &b}, nil
	case *types.AttributeValueMemberBOOL:
		return storedValue{BOOL: &v.Value}, nil
	case *types.AttributeValueMemberNULL:
		return storedValue{NULL: true}, nil
	case *types.AttributeValueMemberSS:
		if len(v.Value) == 0 {
			return storedValue{}, validationError("An string set may not be empty")
		}
		if err := checkUnique(v.Value, func(s string) (string, error) { return s, nil }); err != nil {
			return storedValue{}, err
		}
		return storedValue{SS: v.Value}, nil
	case *types.AttributeValueMemberNS:
		if len(v.Value) == 0 {
			return storedValue{}, validationError("An number set may not be empty")
		}
		if err := checkUnique(v.Value, canonicalNumber); err != nil {
			return storedValue{}, err
		}
		return storedValue{NS: v.Value}, nil
	case *types.AttributeValueMemberBS:
		if len(v.Value) == 0 {
			return storedValue{}, validationError("Binary sets should not be empty")
		}
		if err := checkUnique(v.Value, func(b []byte) (string, error) { return string(b), nil }); err != nil {
			return storedValue{}, err
		}
		return storedValue{BS: v.Value}, nil
	case *types.AttributeValueMemberL:
		list := make([]storedValue, 0, len(v.Value))
		for _, el := range v.Value {
			sv, err := toStored(el)
			if err != nil {
				return storedValue{}, err
			}
			list = append(list, sv)
		}
		return storedValue{L: &list}, nil
	case *types.AttributeValueMemberM:
		m := make(map[string]storedValue, len(v.Value))
		for k, el := range v.Value {
			sv, err := toStored(el)
			if err != nil {
				return storedValue{}, err
			}
			m[k] = sv
		}
		if len(m) == 0 {
			// An empty M must survive omitempty.
			return storedValue{M: map[string]storedValue{"": {}}}, nil
		}
		return storedValue{M: m}, nil
	default:
		return storedValue{}, validationError("unsupported attribute value %T", av)
	}
}

// checkUnique rejects sets in which two members share the same key.
func checkUnique[T any](members []T, key func(T) (string, error)) error {
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		k, err := key(m)
		if err != nil {
			return err
		}
		if seen[k] {
			return validationError("One or more parameter values were invalid: Input collection contains duplicates")
		}
		seen[k] = true
	}
	return nil
}

func (sv storedValue) attributeValue() types.AttributeValue {
	switch {
	case sv.S != nil:
		return &types.AttributeValueMemberS{Value: *sv.S}
	case sv.N != nil:
		return &types.AttributeValueMemberN{Value: *sv.N}
	case sv.B != nil:
		return &types.AttributeValueMemberB{Value: *sv.B}
	case sv.BOOL != nil:
		return &types.AttributeValueMemberBOOL{Value: *sv.BOOL}
	case sv.NULL:
		return &types.AttributeValueMemberNULL{Value: true}
	case sv.SS != nil:
		return &types.AttributeValueMemberSS{Value: sv.SS}
	case sv.NS != nil:
		return &types.AttributeValueMemberNS{Value: sv.NS}
	case sv.BS != nil:
		return &types.AttributeValueMemberBS{Value: sv.BS}
	case sv.L != nil:
		list := make([]types.AttributeValue, 0, len(*sv.L))
		for _, el := range *sv.L {
			list = append(list, el.attributeValue())
		}
		return &types.AttributeValueMemberL{Value: list}
	default:
		m := make(map[string]types.AttributeValue, len(sv.M))
		for k, el := range sv.M {
			if k == "" {
				continue
			}
			m[k] = el.attributeValue()
		}
		return &types.AttributeValueMemberM{Value: m}
	}
}

func encodeItem(item map[string]types.AttributeValue) ([]byte, error) {
	stored := make(map[string]storedValue, len(item))
	for name, av := range item {
		sv, err := toStored(av)
		if err != nil {
			return nil, err
		}
		stored[name] = sv
	}

	return json.Marshal(stored)
}

func decodeItem(data []byte) (map[string]types.AttributeValue, error) {
	var stored map[string]storedValue
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}

	item := make(map[string]types.AttributeValue, len(stored))
	for name, sv := range stored {
		item[name] = sv.attributeValue()
	}
	return item, nil
}

func validationError(format string, a ...any) error {
	return &smithy.GenericAPIError{
		Code:    "ValidationException",
		Message: fmt.Sprintf(format, a...),
		Fault:   smithy.FaultClient,
	}
}
