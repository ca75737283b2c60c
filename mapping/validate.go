package mapping

import (
	"encoding/json"
	"fmt"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/datastore"
)

// ValidateDocument checks doc against the contract of idx.
//
// On strict indices an undeclared field is an UNKNOWN_FIELD error; on
// dynamic:false indices unknown fields pass (they are stored, not
// indexed). A declared field holding an incompatible value is a
// TYPE_MISMATCH either way. The contract itself is never mutated.
func ValidateDocument(idx datastore.Index, doc datastore.Document) error {
	c, err := Get(idx)
	if err != nil {
		return err
	}
	return validateObject(c, string(idx), c.Fields, map[string]any(doc), c.Dynamic == DynamicStrict)
}

func validateObject(c *Contract, path string, fields map[string]Field, obj map[string]any, strict bool) error {
	for name, val := range obj {
		f, declared := fields[name]
		p := path + "." + name
		if !declared {
			if strict {
				return &argonaut.Error{
					Op:      "mapping.ValidateDocument",
					Kind:    argonaut.ErrUnknownField,
					Message: fmt.Sprintf("field %s is not in the %s contract", p, c.Index),
				}
			}
			continue
		}
		if err := validateValue(c, p, f, val, strict); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(c *Contract, path string, f Field, val any, strict bool) error {
	if val == nil {
		return nil
	}
	// Arrays are transparent: every element must fit the field type.
	if arr, ok := val.([]any); ok {
		for i, el := range arr {
			if err := validateValue(c, fmt.Sprintf("%s[%d]", path, i), f, el, strict); err != nil {
				return err
			}
		}
		return nil
	}
	mismatch := func(want string) error {
		return &argonaut.Error{
			Op:      "mapping.ValidateDocument",
			Kind:    argonaut.ErrTypeMismatch,
			Message: fmt.Sprintf("field %s: got %T, want %s", path, val, want),
		}
	}
	switch f.Type {
	case Keyword, Text, Date:
		if _, ok := val.(string); !ok {
			return mismatch(string(f.Type))
		}
	case Boolean:
		if _, ok := val.(bool); !ok {
			return mismatch("boolean")
		}
	case Long:
		if !isInteger(val) {
			return mismatch("long")
		}
	case Double:
		if !isNumber(val) {
			return mismatch("double")
		}
	case Flattened:
		// Anything JSON goes.
	case Object, "":
		obj, ok := val.(map[string]any)
		if !ok {
			return mismatch("object")
		}
		return validateObject(c, path, f.Fields, obj, strict)
	default:
		return fmt.Errorf("mapping: contract declares unhandled type %q at %s", f.Type, path)
	}
	return nil
}

func isInteger(val any) bool {
	switch v := val.(type) {
	case json.Number:
		_, err := v.Int64()
		return err == nil
	case int, int64:
		return true
	case float64:
		return v == float64(int64(v))
	}
	return false
}

func isNumber(val any) bool {
	switch val.(type) {
	case json.Number, int, int64, float64:
		return true
	}
	return false
}
