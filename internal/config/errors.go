package config

import (
	"errors"
	"fmt"
)

// FieldError 指出出错的配置字段，CLI 据此提示用户修改哪一项。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Reason
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// AsFieldError 从包装链中取出 FieldError。
func AsFieldError(err error) (FieldError, bool) {
	var fe FieldError
	if errors.As(err, &fe) {
		return fe, true
	}
	return FieldError{}, false
}

// routeField 生成 Route[name].Field 形式的字段路径。
func routeField(name, field string) string {
	if name == "" {
		name = "?"
	}
	return fmt.Sprintf("Route[%s].%s", name, field)
}
