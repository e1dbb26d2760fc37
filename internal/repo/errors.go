package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrVersionConflict — запись изменена другим писателем (compare-and-swap по version).
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidState — операция невозможна в текущем состоянии.
	ErrInvalidState = errors.New("invalid state")
)
