package store

import (
	"github.com/vmihailenco/msgpack/v5"
)

func MsgpackEncoder[T any]() Encoder[T] {
	return func(value T) ([]byte, error) {
		return msgpack.Marshal(value)
	}
}

func MsgpackDecoder[T any]() Decoder[T] {
	return func(data []byte) (T, error) {
		var value T
		err := msgpack.Unmarshal(data, &value)
		return value, err
	}
}
