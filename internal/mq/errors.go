package mq

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoChannel — канал недоступен (соединение закрыто или переподключается).
	ErrNoChannel = errors.New("no amqp channel available")

	// ErrInvalidMessage — сообщение нельзя опубликовать или разобрать.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrReject — обработчик отказывается от сообщения без повтора.
	// Сообщение уходит в DLQ очереди вместо requeue.
	ErrReject = errors.New("reject message")
)

// RequeueError — обработчик просит вернуть сообщение в очередь не сразу,
// а через After. Пока задержка не истекла, сообщение остаётся unacked.
type RequeueError struct {
	After time.Duration
	Err   error
}

func (e *RequeueError) Error() string {
	return fmt.Sprintf("requeue after %s: %v", e.After, e.Err)
}

func (e *RequeueError) Unwrap() error {
	return e.Err
}

// RequeueAfter оборачивает err в *RequeueError.
func RequeueAfter(after time.Duration, err error) error {
	return &RequeueError{After: after, Err: err}
}
