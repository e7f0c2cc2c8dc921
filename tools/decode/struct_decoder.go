package decode

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"PChatGate/tools/errs"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// 宽松解码："123" -> int 等。客户端事件默认关闭。
	WeaklyTypedInput bool
	// 出现未声明字段时报错。
	RejectUnknown bool
}

func DefaultOptions() Options {
	return Options{RejectUnknown: true}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Map decodes a generic JSON object into T using `json` tags and then runs
// `validate` tags. Every failure is reported as errs.ErrInvalidInput.
func Map[T any](m map[string]any, opts ...Options) (*T, error) {
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}
	if m == nil {
		m = map[string]any{}
	}

	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		ErrorUnused:      cfg.RejectUnknown,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			trimStringHook(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, errs.ErrInvalidInput.WrapMsg(err.Error())
	}
	if err := Validate(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Raw decodes a JSON document (object) into T with the same rules as Map.
func Raw[T any](raw json.RawMessage, opts ...Options) (*T, error) {
	m := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, errs.ErrInvalidInput.WrapMsg("payload must be a JSON object")
		}
	}
	return Map[T](m, opts...)
}

// Validate runs `validate` struct tags.
func Validate(v any) error {
	if err := validatorInstance().Struct(v); err != nil {
		var fields []string
		if ve, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range ve {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return errs.ErrInvalidInput.WrapMsg(strings.Join(fields, "; "))
		}
		return errs.ErrInvalidInput.WrapMsg(err.Error())
	}
	return nil
}

// trimStringHook：把字符串两端空白去掉，空白串按缺失处理。
func trimStringHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String || to != reflect.String {
			return data, nil
		}
		return strings.TrimSpace(data.(string)), nil
	}
}
