package envelope

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dugrema/millegrilles-datacollector/internal/busproto"
)

// validate is a package-level, concurrency-safe validator instance. Field
// names in its errors come from each field's json tag.
var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Parse decodes an envelope's contenu into dst and runs struct-tag
// validation, implementing §4.3 step 1 ("parse & structurally validate").
// A decode or validation failure is returned as a *busproto.Error with code
// 400, ready to hand straight to the reply path.
func Parse(contenu json.RawMessage, dst any) *busproto.Error {
	dec := json.NewDecoder(strings.NewReader(string(contenu)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return busproto.Wrap(busproto.CodeBadRequest, err, "malformed command payload")
	}

	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			return busproto.Errorf(busproto.CodeBadRequest, "field %q failed validation: %s", jsonFieldName(fe), fe.Tag())
		}
		return busproto.Wrap(busproto.CodeBadRequest, err, "command payload failed validation")
	}

	return nil
}

// jsonFieldName converts the validator's field namespace to its JSON name,
// dropping the struct-name prefix.
func jsonFieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		ns = ns[idx+1:]
	}
	return toSnakeCase(ns)
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + 32)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
