package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/annel0/arena-sync/internal/vec"
)

// Ошибки декодирования. Любая из них фатальна для соединения.
var (
	ErrTruncated   = errors.New("protocol: truncated record")
	ErrUnknownKind = errors.New("protocol: unknown record kind")
	ErrMalformed   = errors.New("protocol: malformed record")
)

var be = binary.BigEndian

// Encode сериализует запись в новый буфер
func Encode(r Record) []byte {
	return Append(make([]byte, 0, r.Size()), r)
}

// EncodeAll сериализует последовательность записей подряд
func EncodeAll(records []Record) []byte {
	total := 0
	for _, r := range records {
		total += r.Size()
	}
	buf := make([]byte, 0, total)
	for _, r := range records {
		buf = Append(buf, r)
	}
	return buf
}

// Append дописывает запись в конец dst и возвращает расширенный срез
func Append(dst []byte, r Record) []byte {
	dst = appendInt32(dst, int32(r.Kind()))

	switch rec := r.(type) {
	case Spawn:
		dst = appendInt32(dst, rec.UID)
		dst = appendInt32(dst, rec.UnitType)
		dst = appendInt32(dst, rec.Health)
		dst = appendInt32(dst, rec.MaxHealth)
		dst = appendVec3(dst, rec.Position)
		dst = appendQuat(dst, rec.Orientation)
		dst = be.AppendUint32(dst, rec.LastEventID)
		dst = appendName(dst, rec.Name)
	case Despawn:
		dst = appendInt32(dst, rec.UID)
	case Cast:
		dst = appendInt32(dst, rec.CasterUID)
		dst = appendInt32(dst, rec.Code)
	case TargetedCast:
		dst = appendInt32(dst, rec.CasterUID)
		dst = appendInt32(dst, rec.TargetUID)
		dst = appendInt32(dst, rec.Code)
	case MultiTargetedCast:
		dst = appendInt32(dst, rec.CasterUID)
		dst = appendInt32(dst, rec.Code)
		targets := rec.wireTargets()
		dst = appendInt32(dst, int32(len(targets)))
		for _, t := range targets {
			dst = appendInt32(dst, t)
		}
	case VectorCast:
		dst = appendInt32(dst, rec.CasterUID)
		dst = appendVec3(dst, rec.Position)
		dst = appendQuat(dst, rec.Orientation)
		dst = appendInt32(dst, rec.Code)
	case CombatEffect:
		dst = appendInt32(dst, rec.SourceUID)
		dst = appendInt32(dst, rec.TargetUID)
		dst = appendInt32(dst, rec.Code)
		dst = appendInt32(dst, rec.Value)
	case Create:
		dst = appendInt32(dst, rec.UID)
		dst = appendInt32(dst, rec.EffectType)
		dst = appendInt32(dst, rec.CreatorUID)
		dst = appendVec3(dst, rec.Position)
		dst = appendQuat(dst, rec.Orientation)
		dst = appendName(dst, rec.Name)
	case Destroy:
		dst = appendInt32(dst, rec.UID)
	case Buff:
		dst = appendInt32(dst, rec.UID)
		dst = appendInt32(dst, rec.CasterUID)
		dst = appendInt32(dst, rec.TargetUID)
		dst = appendInt32(dst, rec.BuffType)
	case Debuff:
		dst = appendInt32(dst, rec.UID)
	case Noop:
		dst = appendInt32(dst, rec.SourceUID)
	default:
		panic(fmt.Sprintf("protocol: неизвестный тип записи %T", r))
	}
	return dst
}

// Decode читает одну запись из buf начиная с off.
// Возвращает запись и количество прочитанных байт.
func Decode(buf []byte, off int) (Record, int, error) {
	if off < 0 || off > len(buf) {
		return nil, 0, fmt.Errorf("%w: offset %d вне буфера длиной %d", ErrMalformed, off, len(buf))
	}
	d := decoder{buf: buf[off:]}
	kind := Kind(d.int32())
	if d.err != nil {
		return nil, 0, d.err
	}

	var rec Record
	switch kind {
	case KindSpawn:
		s := Spawn{}
		s.UID = d.int32()
		s.UnitType = d.int32()
		s.Health = d.int32()
		s.MaxHealth = d.int32()
		s.Position = d.vec3()
		s.Orientation = d.quat()
		s.LastEventID = d.uint32()
		s.Name = d.name()
		rec = s
	case KindDespawn:
		rec = Despawn{UID: d.int32()}
	case KindCast:
		c := Cast{}
		c.CasterUID = d.int32()
		c.Code = d.int32()
		rec = c
	case KindTargetedCast:
		c := TargetedCast{}
		c.CasterUID = d.int32()
		c.TargetUID = d.int32()
		c.Code = d.int32()
		rec = c
	case KindMultiTargetedCast:
		c := MultiTargetedCast{}
		c.CasterUID = d.int32()
		c.Code = d.int32()
		n := d.int32()
		if d.err == nil && (n < 0 || n > MaxTargets) {
			return nil, 0, fmt.Errorf("%w: число целей %d", ErrMalformed, n)
		}
		if n > 0 {
			c.Targets = make([]int32, n)
			for i := range c.Targets {
				c.Targets[i] = d.int32()
			}
		}
		rec = c
	case KindVectorCast:
		c := VectorCast{}
		c.CasterUID = d.int32()
		c.Position = d.vec3()
		c.Orientation = d.quat()
		c.Code = d.int32()
		rec = c
	case KindCombatEffect:
		c := CombatEffect{}
		c.SourceUID = d.int32()
		c.TargetUID = d.int32()
		c.Code = d.int32()
		c.Value = d.int32()
		rec = c
	case KindCreate:
		c := Create{}
		c.UID = d.int32()
		c.EffectType = d.int32()
		c.CreatorUID = d.int32()
		c.Position = d.vec3()
		c.Orientation = d.quat()
		c.Name = d.name()
		rec = c
	case KindDestroy:
		rec = Destroy{UID: d.int32()}
	case KindBuff:
		b := Buff{}
		b.UID = d.int32()
		b.CasterUID = d.int32()
		b.TargetUID = d.int32()
		b.BuffType = d.int32()
		rec = b
	case KindDebuff:
		rec = Debuff{UID: d.int32()}
	case KindNoop:
		rec = Noop{SourceUID: d.int32()}
	default:
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownKind, int32(kind))
	}

	if d.err != nil {
		return nil, 0, fmt.Errorf("%s: %w", kind, d.err)
	}
	return rec, d.pos, nil
}

// DecodeAll разбирает буфер, содержащий целое число записей
func DecodeAll(buf []byte) ([]Record, error) {
	var out []Record
	for off := 0; off < len(buf); {
		rec, n, err := Decode(buf, off)
		if err != nil {
			return out, fmt.Errorf("запись #%d (offset %d): %w", len(out), off, err)
		}
		out = append(out, rec)
		off += n
	}
	return out, nil
}

func appendInt32(dst []byte, v int32) []byte {
	return be.AppendUint32(dst, uint32(v))
}

func appendFloat32(dst []byte, f float32) []byte {
	return be.AppendUint32(dst, math.Float32bits(f))
}

func appendVec3(dst []byte, v vec.Vec3) []byte {
	dst = appendFloat32(dst, v.X)
	dst = appendFloat32(dst, v.Y)
	return appendFloat32(dst, v.Z)
}

func appendQuat(dst []byte, q vec.Quat) []byte {
	dst = appendFloat32(dst, q.X)
	dst = appendFloat32(dst, q.Y)
	dst = appendFloat32(dst, q.Z)
	return appendFloat32(dst, q.W)
}

func appendName(dst []byte, name string) []byte {
	dst = append(dst, SanitizeName(name)...)
	return append(dst, 0)
}

// decoder последовательно читает поля; первая ошибка «залипает»
type decoder struct {
	buf []byte
	pos int
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf)-d.pos < n {
		d.err = ErrTruncated
		return nil
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *decoder) uint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return be.Uint32(b)
}

func (d *decoder) int32() int32 { return int32(d.uint32()) }

func (d *decoder) float32() float32 { return math.Float32frombits(d.uint32()) }

func (d *decoder) vec3() vec.Vec3 {
	return vec.Vec3{X: d.float32(), Y: d.float32(), Z: d.float32()}
}

func (d *decoder) quat() vec.Quat {
	return vec.Quat{X: d.float32(), Y: d.float32(), Z: d.float32(), W: d.float32()}
}

// name читает ASCII-строку до NUL, не длиннее MaxNameLen
func (d *decoder) name() string {
	if d.err != nil {
		return ""
	}
	rest := d.buf[d.pos:]
	limit := MaxNameLen + 1
	if len(rest) < limit {
		limit = len(rest)
	}
	for i := 0; i < limit; i++ {
		if rest[i] == 0 {
			s := string(rest[:i])
			d.pos += i + 1
			return s
		}
		if rest[i] > 0x7f {
			d.err = fmt.Errorf("%w: не-ASCII байт в имени", ErrMalformed)
			return ""
		}
	}
	if len(rest) <= MaxNameLen {
		d.err = ErrTruncated
	} else {
		d.err = fmt.Errorf("%w: имя длиннее %d байт", ErrMalformed, MaxNameLen)
	}
	return ""
}
