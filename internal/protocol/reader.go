package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// fixedSizes размеры записей без переменной части
var fixedSizes = map[Kind]int{
	KindDespawn:      DespawnSize,
	KindCast:         CastSize,
	KindTargetedCast: TargetedCastSize,
	KindVectorCast:   VectorCastSize,
	KindCombatEffect: CombatEffectSize,
	KindDestroy:      DestroySize,
	KindBuff:         BuffSize,
	KindDebuff:       DebuffSize,
	KindNoop:         NoopSize,
}

// Reader читает записи из потокового соединения (TCP/KCP).
// Сам поток не содержит длин: размер каждой записи определяется по тегу.
type Reader struct {
	r   *bufio.Reader
	buf []byte
}

// NewReader создаёт потоковый читатель записей
func NewReader(r io.Reader) *Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return &Reader{r: br, buf: make([]byte, 0, 128)}
	}
	return &Reader{r: bufio.NewReaderSize(r, 4096), buf: make([]byte, 0, 128)}
}

// Buffered возвращает bufio.Reader, лежащий под читателем записей
func (rd *Reader) Buffered() *bufio.Reader {
	return rd.r
}

// ReadRecord блокируется до получения полной записи.
// io.EOF возвращается только если поток закрылся ровно на границе записи.
func (rd *Reader) ReadRecord() (Record, error) {
	rd.buf = rd.buf[:0]
	if err := rd.fill(4); err != nil {
		return nil, err
	}
	kind := Kind(be.Uint32(rd.buf))

	switch {
	case fixedSizes[kind] > 0:
		if err := rd.fill(fixedSizes[kind]); err != nil {
			return nil, unexpected(err)
		}
	case kind == KindMultiTargetedCast:
		if err := rd.fill(multiTargetedBase); err != nil {
			return nil, unexpected(err)
		}
		n := int32(be.Uint32(rd.buf[12:16]))
		if n < 0 || n > MaxTargets {
			return nil, fmt.Errorf("%w: число целей %d", ErrMalformed, n)
		}
		if err := rd.fill(multiTargetedBase + 4*int(n)); err != nil {
			return nil, unexpected(err)
		}
	case kind == KindSpawn || kind == KindCreate:
		base := spawnBase
		if kind == KindCreate {
			base = createBase
		}
		if err := rd.fill(base); err != nil {
			return nil, unexpected(err)
		}
		if err := rd.readName(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int32(kind))
	}

	rec, _, err := Decode(rd.buf, 0)
	return rec, err
}

// fill дочитывает буфер до n байт
func (rd *Reader) fill(n int) error {
	have := len(rd.buf)
	if have >= n {
		return nil
	}
	if cap(rd.buf) < n {
		grown := make([]byte, have, n)
		copy(grown, rd.buf)
		rd.buf = grown
	}
	rd.buf = rd.buf[:n]
	if _, err := io.ReadFull(rd.r, rd.buf[have:]); err != nil {
		rd.buf = rd.buf[:have]
		return err
	}
	return nil
}

// readName дочитывает имя вместе с завершающим NUL
func (rd *Reader) readName() error {
	for i := 0; i <= MaxNameLen; i++ {
		b, err := rd.r.ReadByte()
		if err != nil {
			return unexpected(err)
		}
		rd.buf = append(rd.buf, b)
		if b == 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: имя длиннее %d байт", ErrMalformed, MaxNameLen)
}

// Writer пишет записи в потоковое соединение
type Writer struct {
	w   io.Writer
	buf []byte
}

// NewWriter создаёт писатель записей
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, buf: make([]byte, 0, 256)}
}

// WriteRecords сериализует записи и отправляет их одним вызовом Write
func (wr *Writer) WriteRecords(records ...Record) error {
	wr.buf = wr.buf[:0]
	for _, r := range records {
		wr.buf = Append(wr.buf, r)
	}
	if len(wr.buf) == 0 {
		return nil
	}
	_, err := wr.w.Write(wr.buf)
	return err
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
