package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/annel0/arena-sync/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []Record {
	return []Record{
		Spawn{UID: 7, UnitType: 2, Health: 80, MaxHealth: 100, Position: vec.Vec3{X: 1, Y: 2, Z: 3},
			Orientation: vec.Identity, LastEventID: 42, Name: "ranger"},
		Despawn{UID: 7},
		Cast{CasterUID: 7, Code: 100},
		TargetedCast{CasterUID: 7, TargetUID: -3, Code: 101},
		MultiTargetedCast{CasterUID: 7, Code: 102, Targets: []int32{-1, -2, 5}},
		VectorCast{CasterUID: 7, Position: vec.Vec3{X: -4.5, Y: 0, Z: 9.25}, Orientation: vec.YawQuat(1), Code: 1},
		CombatEffect{SourceUID: 7, TargetUID: -3, Code: 101, Value: -25},
		Create{UID: -10, EffectType: 3, CreatorUID: 7, Position: vec.Vec3{X: 1}, Orientation: vec.Identity, Name: "totem"},
		Destroy{UID: -10},
		Buff{UID: -11, CasterUID: 7, TargetUID: 7, BuffType: 1},
		Debuff{UID: -11},
		Noop{SourceUID: 7},
	}
}

// TestRoundTrip проверяет симметричность Encode/Decode для всех вариантов
func TestRoundTrip(t *testing.T) {
	for _, rec := range sampleRecords() {
		t.Run(rec.Kind().String(), func(t *testing.T) {
			data := Encode(rec)
			require.Len(t, data, rec.Size())

			decoded, n, err := Decode(data, 0)
			require.NoError(t, err)
			assert.Equal(t, rec.Size(), n)
			assert.Equal(t, rec, decoded)
		})
	}
}

func TestMultiTargetBounds(t *testing.T) {
	many := make([]int32, MaxTargets+1)
	for i := range many {
		many[i] = int32(-i - 1)
	}
	rec := MultiTargetedCast{CasterUID: 1, Code: 7, Targets: many}
	data := Encode(rec)
	require.Len(t, data, rec.Size())

	decoded, n, err := Decode(data, 0)
	require.NoError(t, err, "закодированная запись всегда декодируется")
	assert.Equal(t, len(data), n)
	assert.Equal(t, many[:MaxTargets], decoded.(MultiTargetedCast).Targets)

	decoded, _, err = Decode(Encode(MultiTargetedCast{CasterUID: 1, Code: 7, Targets: []int32{}}), 0)
	require.NoError(t, err)
	assert.Nil(t, decoded.(MultiTargetedCast).Targets)
	assert.Equal(t, 16, decoded.Size())
}

// TestRecordSizes сверяет размеры с таблицей формата
func TestRecordSizes(t *testing.T) {
	cases := map[Kind]int{
		KindCast:         12,
		KindTargetedCast: 16,
		KindVectorCast:   40,
		KindDespawn:      8,
		KindDestroy:      8,
		KindCombatEffect: 20,
		KindBuff:         20,
		KindDebuff:       8,
		KindNoop:         8,
	}
	for _, rec := range sampleRecords() {
		if want, ok := cases[rec.Kind()]; ok {
			assert.Equal(t, want, rec.Size(), rec.Kind().String())
		}
	}

	assert.Equal(t, 52+len("hero")+1, Spawn{Name: "hero"}.Size())
	assert.Equal(t, 44+len("fire")+1, Create{Name: "fire"}.Size())
	assert.Equal(t, 16+4*3, MultiTargetedCast{Targets: []int32{1, 2, 3}}.Size())
}

func TestBigEndianLayout(t *testing.T) {
	data := Encode(TargetedCast{CasterUID: 1, TargetUID: -1, Code: 0x01020304})
	assert.Equal(t, []byte{
		0, 0, 0, 4,
		0, 0, 0, 1,
		0xff, 0xff, 0xff, 0xff,
		1, 2, 3, 4,
	}, data)
}

func TestDecodeAtOffset(t *testing.T) {
	records := sampleRecords()
	buf := EncodeAll(records)

	decoded, err := DecodeAll(buf)
	require.NoError(t, err)
	assert.Equal(t, records, decoded)

	// Вторая запись начинается сразу за первой
	first := records[0].Size()
	rec, n, err := Decode(buf, first)
	require.NoError(t, err)
	assert.Equal(t, Despawn{UID: 7}, rec)
	assert.Equal(t, DespawnSize, n)
}

func TestDecodeErrors(t *testing.T) {
	t.Run("truncated fixed", func(t *testing.T) {
		data := Encode(VectorCast{CasterUID: 1, Code: 2})
		for cut := 0; cut < len(data); cut++ {
			_, _, err := Decode(data[:cut], 0)
			assert.ErrorIs(t, err, ErrTruncated, "cut=%d", cut)
		}
	})

	t.Run("truncated name", func(t *testing.T) {
		data := Encode(Spawn{UID: 1, Name: "abc"})
		_, _, err := Decode(data[:len(data)-1], 0)
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, _, err := Decode([]byte{0, 0, 0, 99, 0, 0, 0, 0}, 0)
		assert.ErrorIs(t, err, ErrUnknownKind)
	})

	t.Run("too many targets", func(t *testing.T) {
		data := Encode(MultiTargetedCast{CasterUID: 1, Code: 2})
		data[15] = MaxTargets + 1
		_, _, err := Decode(data, 0)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("name without terminator", func(t *testing.T) {
		data := Encode(Spawn{UID: 1})
		data = data[:len(data)-1]
		data = append(data, bytes.Repeat([]byte{'a'}, MaxNameLen+1)...)
		_, _, err := Decode(data, 0)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestNameSanitizing(t *testing.T) {
	long := strings.Repeat("x", MaxNameLen+10)
	rec, _, err := Decode(Encode(Spawn{UID: 1, Name: long}), 0)
	require.NoError(t, err)
	assert.Len(t, rec.(Spawn).Name, MaxNameLen)

	rec, _, err = Decode(Encode(Create{UID: -1, Name: "bad\x00tail"}), 0)
	require.NoError(t, err)
	assert.Equal(t, "bad", rec.(Create).Name)

	assert.Equal(t, "caf?", SanitizeName("café"))
	assert.Equal(t, 52+4+1, Spawn{Name: "café"}.Size())
}

func TestWithCodeCopies(t *testing.T) {
	orig := MultiTargetedCast{CasterUID: 1, Code: 5, Targets: []int32{1, 2}}
	rewritten := orig.WithCode(9).(MultiTargetedCast)
	rewritten.Targets[0] = 100

	assert.Equal(t, int32(5), orig.Code)
	assert.Equal(t, int32(1), orig.Targets[0])
	assert.Equal(t, int32(9), rewritten.ActionCode())
	assert.Equal(t, int32(1), rewritten.Caster())
}

func TestStreamReader(t *testing.T) {
	records := sampleRecords()
	var stream bytes.Buffer
	require.NoError(t, NewWriter(&stream).WriteRecords(records...))

	rd := NewReader(&stream)
	for i, want := range records {
		got, err := rd.ReadRecord()
		require.NoError(t, err, "запись #%d", i)
		assert.Equal(t, want, got)
	}

	_, err := rd.ReadRecord()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamReaderPartial(t *testing.T) {
	data := Encode(Buff{UID: -1, CasterUID: 2, TargetUID: 2, BuffType: 1})
	rd := NewReader(bytes.NewReader(data[:10]))
	_, err := rd.ReadRecord()
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	rd = NewReader(bytes.NewReader([]byte{0, 0, 0, 77}))
	_, err = rd.ReadRecord()
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestPoseDatagram(t *testing.T) {
	p := PoseDatagram{
		Scene: []ScenePose{{Position: vec.Vec3{Y: 5}, Velocity: vec.Vec3{Y: 1}, Orientation: vec.Identity}},
		Units: []IdentifiedPose{
			{UID: 3, Position: vec.Vec3{X: 1}, Orientation: vec.Identity, AnimState: 2, EventCounter: 9},
			{UID: -4, Velocity: vec.Vec3{Z: -1}, Orientation: vec.Identity, EventCounter: 1},
		},
	}
	data, err := AppendPoseDatagram(nil, p)
	require.NoError(t, err)
	assert.Len(t, data, PoseHeaderSize+ScenePoseSize+2*IdentifiedPoseSize)
	assert.Equal(t, p.Size(), len(data))

	decoded, err := DecodePoseDatagram(data)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)

	_, err = DecodePoseDatagram(data[:len(data)-3])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestPoseDatagramBudget(t *testing.T) {
	capacity := UnitCapacity(0)
	assert.Equal(t, (MaxDatagramSize-PoseHeaderSize)/IdentifiedPoseSize, capacity)

	p := PoseDatagram{Units: make([]IdentifiedPose, capacity)}
	data, err := AppendPoseDatagram(nil, p)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(data), MaxDatagramSize)

	p.Units = append(p.Units, IdentifiedPose{})
	_, err = AppendPoseDatagram(nil, p)
	assert.ErrorIs(t, err, ErrMalformed)

	assert.Equal(t, 0, UnitCapacity(20))
}

func TestHello(t *testing.T) {
	uid, ok := DecodeHello(EncodeHello(-77))
	require.True(t, ok)
	assert.Equal(t, int32(-77), uid)

	_, ok = DecodeHello([]byte("HELLO!!!"))
	assert.False(t, ok)
}

func TestTokens(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteToken(&buf, TokenRetry))
	require.NoError(t, WriteInt32(&buf, 7777))
	require.NoError(t, WriteToken(&buf, TokenOK))

	assert.Equal(t, []byte{0, 0, 0, 5, 'R', 'E', 'T', 'R', 'Y'}, buf.Bytes()[:9])

	tok, err := ReadToken(&buf)
	require.NoError(t, err)
	assert.Equal(t, TokenRetry, tok)

	port, err := ReadInt32(&buf)
	require.NoError(t, err)
	assert.Equal(t, int32(7777), port)

	assert.NoError(t, ExpectToken(&buf, TokenOK))

	buf.Reset()
	require.NoError(t, WriteToken(&buf, TokenNOK))
	assert.ErrorIs(t, ExpectToken(&buf, TokenOK), ErrMalformed)
}

func TestReadReply(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteInt32(&buf, 7778))
	port, err := ReadReply(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, int32(7778), port)

	buf.Reset()
	require.NoError(t, WriteToken(&buf, TokenNOK))
	_, err = ReadReply(bufio.NewReader(&buf))
	assert.ErrorIs(t, err, ErrRejected)

	// Значение 3 без "NOK" следом остаётся обычным числом
	buf.Reset()
	require.NoError(t, WriteInt32(&buf, 3))
	buf.WriteString("OK!")
	br := bufio.NewReader(&buf)
	v, err := ReadReply(br)
	require.NoError(t, err)
	assert.Equal(t, int32(3), v)
	rest, _ := io.ReadAll(br)
	assert.Equal(t, "OK!", string(rest))
}
