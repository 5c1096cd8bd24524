package endpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxBodyBytes bounds the JSON body read by Unmarshal.
var maxBodyBytes int64 = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their wire name rather than the Go field name.
	v.RegisterTagNameFunc(func(sf reflect.StructField) string {
		for _, key := range []string{"json", "query", "form", "path"} {
			name, _, _ := strings.Cut(sf.Tag.Get(key), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return sf.Name
	})
	return v
}

// Unmarshal populates dst (a non-nil pointer to a struct) from the request and
// validates it.
//
// Sources, applied in order so later sources win:
//   - JSON body, when Content-Type is application/json (standard `json` tags)
//   - form values (`form:"name"`), for urlencoded bodies
//   - query parameters (`query:"name"`)
//   - path values (`path:"name"`)
//
// Tagged fields may be strings, bools, integers or []string. After decoding,
// `validate:"..."` tags are checked; any failure is a 400.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() != reflect.Struct {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}

	var form url.Values
	if requestBodyIsJSON(r) {
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return Error(http.StatusBadRequest, "invalid JSON body", err)
		}
	} else if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
		if err := r.ParseForm(); err != nil {
			return Error(http.StatusBadRequest, "invalid form body", err)
		}
		form = r.PostForm
	}

	var query url.Values
	if r.URL != nil {
		query = r.URL.Query()
	}

	if err := unmarshalStruct(r, root, query, form); err != nil {
		return err
	}

	if root.NumField() == 0 {
		return nil
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return Error(http.StatusBadRequest, validationMessage(verrs), err)
		}
		return Error(http.StatusInternalServerError, "", err)
	}
	return nil
}

func validationMessage(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			parts = append(parts, fe.Field()+" is required")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func requestBodyIsJSON(r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return false
	}
	ct := strings.TrimSpace(r.Header.Get("Content-Type"))
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func unmarshalStruct(r *http.Request, structVal reflect.Value, query, form url.Values) error {
	t := structVal.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := structVal.Field(i)

		// Embedded structs without tags are flattened.
		if sf.Anonymous && fv.Kind() == reflect.Struct {
			if err := unmarshalStruct(r, fv, query, form); err != nil {
				return err
			}
			continue
		}

		if name := tagName(sf, "form"); name != "" {
			if vs, ok := form[name]; ok && len(vs) > 0 {
				if err := setField(fv, vs); err != nil {
					return Error(http.StatusBadRequest, fmt.Sprintf("invalid form value %q", name), err)
				}
			}
		}
		if name := tagName(sf, "query"); name != "" {
			if vs, ok := query[name]; ok && len(vs) > 0 {
				if err := setField(fv, vs); err != nil {
					return Error(http.StatusBadRequest, fmt.Sprintf("invalid query value %q", name), err)
				}
			}
		}
		if name := tagName(sf, "path"); name != "" {
			if v := r.PathValue(name); v != "" {
				if err := setField(fv, []string{v}); err != nil {
					return Error(http.StatusBadRequest, fmt.Sprintf("invalid path value %q", name), err)
				}
			}
		}
	}
	return nil
}

func tagName(sf reflect.StructField, key string) string {
	tag, ok := sf.Tag.Lookup(key)
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return strings.ToLower(sf.Name)
	}
	return name
}

func setField(fv reflect.Value, values []string) error {
	if !fv.CanSet() {
		return errors.New("field is not settable")
	}
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(values[0])
	case reflect.Bool:
		b, err := strconv.ParseBool(values[0])
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(values[0], 10, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(values[0], 10, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetUint(n)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", fv.Type())
		}
		fv.Set(reflect.ValueOf(append([]string(nil), values...)))
	default:
		return fmt.Errorf("unsupported field type %s", fv.Type())
	}
	return nil
}
