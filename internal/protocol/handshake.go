package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Токены рукопожатия
const (
	TokenOK    = "OK"
	TokenNOK   = "NOK"
	TokenRetry = "RETRY"
)

// ErrRejected сервер ответил NOK
var ErrRejected = errors.New("protocol: handshake rejected")

// MaxTokenLen ограничивает длину строки в рукопожатии
const MaxTokenLen = 256

// WriteToken пишет строку в виде count(4) + ASCII
func WriteToken(w io.Writer, token string) error {
	buf := make([]byte, 0, 4+len(token))
	buf = be.AppendUint32(buf, uint32(len(token)))
	buf = append(buf, token...)
	_, err := w.Write(buf)
	return err
}

// ReadToken читает строку count(4) + ASCII
func ReadToken(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, be, &n); err != nil {
		return "", err
	}
	if n > MaxTokenLen {
		return "", fmt.Errorf("%w: длина токена %d", ErrMalformed, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", unexpected(err)
	}
	for _, b := range buf {
		if b == 0 || b > 0x7f {
			return "", fmt.Errorf("%w: не-ASCII токен", ErrMalformed)
		}
	}
	return string(buf), nil
}

// ExpectToken читает строку и проверяет, что она совпадает с want
func ExpectToken(r io.Reader, want string) error {
	got, err := ReadToken(r)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: ожидался токен %q, получен %q", ErrMalformed, want, got)
	}
	return nil
}

// WriteInt32 пишет 4-байтное целое в big-endian
func WriteInt32(w io.Writer, v int32) error {
	return binary.Write(w, be, v)
}

// ReadInt32 читает 4-байтное целое в big-endian
func ReadInt32(r io.Reader) (int32, error) {
	var v int32
	err := binary.Read(r, be, &v)
	return v, err
}

// ReadReply читает целое, на месте которого сервер может прислать отказ.
// Отказ отличим по префиксу длины 3, за которым идёт "NOK".
func ReadReply(br *bufio.Reader) (int32, error) {
	head, err := br.Peek(4)
	if err != nil {
		return 0, err
	}
	v := int32(be.Uint32(head))
	if v == int32(len(TokenNOK)) {
		if full, err := br.Peek(4 + len(TokenNOK)); err == nil && string(full[4:]) == TokenNOK {
			br.Discard(len(full))
			return 0, ErrRejected
		}
	}
	br.Discard(4)
	return v, nil
}
