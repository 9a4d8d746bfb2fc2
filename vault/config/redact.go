package config

import (
	"reflect"
	"strings"

	"github.com/LerianStudio/shared-vault/vault/security"
)

// Redacted returns a copy of c that is safe to log or print. Fields whose
// YAML name is sensitive are masked and URL passwords are hidden.
func (c Config) Redacted() Config {
	out := c
	redactStruct(reflect.ValueOf(&out).Elem())

	return out
}

func redactStruct(v reflect.Value) {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "" {
			name = field.Name
		}

		fv := v.Field(i)

		switch fv.Kind() {
		case reflect.Struct:
			redactStruct(fv)
		case reflect.String:
			fv.SetString(redactString(name, fv.String()))
		case reflect.Slice:
			if fv.Type().Elem().Kind() != reflect.String || fv.IsNil() {
				continue
			}

			items := make([]string, fv.Len())
			for j := range items {
				items[j] = redactString(name, fv.Index(j).String())
			}

			fv.Set(reflect.ValueOf(items))
		}
	}
}

func redactString(name, value string) string {
	if value == "" {
		return value
	}

	if security.IsSensitiveField(name) {
		return security.Mask
	}

	return security.RedactURL(value)
}
