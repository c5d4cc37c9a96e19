package domain

import "errors"

// ErrInvalidInput возвращается при отсутствии обязательных полей.
var ErrInvalidInput = errors.New("обязательные поля не заполнены")

// ErrNotFound возвращается когда документ отсутствует.
var ErrNotFound = errors.New("документ не найден")

// ErrForbidden возвращается когда пользователь не владеет отчётом.
var ErrForbidden = errors.New("операция доступна только автору отчёта")
