package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator validates structs from their `validate` tags.
// Supported rules: required, email, len=N, min=N, max=N, oneof=a b c.
// Nested structs are validated recursively.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	return v.validateStruct(val, "")
}

func (v *Validator) validateStruct(val reflect.Value, prefix string) error {
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		if !fieldType.IsExported() {
			continue
		}

		name := prefix + fieldType.Name

		if tag := fieldType.Tag.Get("validate"); tag != "" {
			if err := v.validateField(field, tag); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}

		// time.Duration 等非结构体字段不递归
		if field.Kind() == reflect.Struct {
			if err := v.validateStruct(field, name+"."); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	for _, rule := range strings.Split(tag, ",") {
		parts := strings.SplitN(rule, "=", 2)
		ruleName := parts[0]
		arg := ""
		if len(parts) == 2 {
			arg = parts[1]
		}

		switch ruleName {
		case "required":
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "email":
			if field.Kind() == reflect.String && field.String() != "" {
				if !strings.Contains(field.String(), "@") {
					return fmt.Errorf("invalid email format")
				}
			}

		case "len":
			n, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("bad len rule %q", arg)
			}
			if field.Kind() == reflect.String && field.Len() != n && field.Len() != 0 {
				return fmt.Errorf("length must be %d", n)
			}

		case "min", "max":
			bound, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return fmt.Errorf("bad %s rule %q", ruleName, arg)
			}
			x, ok := number(field)
			if !ok {
				continue
			}
			if ruleName == "min" && x < bound {
				return fmt.Errorf("must be at least %s", arg)
			}
			if ruleName == "max" && x > bound {
				return fmt.Errorf("must be at most %s", arg)
			}

		case "oneof":
			got := fmt.Sprint(field.Interface())
			found := false
			for _, option := range strings.Fields(arg) {
				if option == got {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("%q is not one of [%s]", got, arg)
			}
		}
	}

	return nil
}

// number returns the numeric value of a field, the length for strings
func number(field reflect.Value) (float64, bool) {
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(field.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(field.Uint()), true
	case reflect.Float32, reflect.Float64:
		return field.Float(), true
	case reflect.String:
		return float64(field.Len()), true
	}
	return 0, false
}
