package validation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type inner struct {
	Mode string `validate:"oneof=a b"`
	Port int    `validate:"min=1,max=10"`
}

type outer struct {
	Name  string `validate:"required"`
	Mail  string `validate:"email"`
	Code  string `validate:"len=4"`
	Inner inner
}

func valid() outer {
	return outer{Name: "gw", Mail: "ops@example.com", Code: "abcd", Inner: inner{Mode: "a", Port: 5}}
}

func TestValidate(t *testing.T) {
	v := NewValidator()
	s := valid()
	require.NoError(t, v.Validate(&s))
	require.NoError(t, v.Validate(s))
	require.Error(t, v.Validate(42))
}

func TestValidateRules(t *testing.T) {
	v := NewValidator()

	for name, mutate := range map[string]func(*outer){
		"Name":       func(o *outer) { o.Name = "" },
		"Mail":       func(o *outer) { o.Mail = "nope" },
		"Code":       func(o *outer) { o.Code = "abc" },
		"Inner.Mode": func(o *outer) { o.Inner.Mode = "c" },
		"Inner.Port": func(o *outer) { o.Inner.Port = 11 },
	} {
		s := valid()
		mutate(&s)
		err := v.Validate(&s)
		require.Error(t, err, name)
		require.Contains(t, err.Error(), name+":")
	}

	s := valid()
	s.Inner.Port = 0
	require.ErrorContains(t, v.Validate(&s), "at least 1")
}
