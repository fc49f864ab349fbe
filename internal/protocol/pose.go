package protocol

import (
	"bytes"
	"fmt"

	"github.com/annel0/arena-sync/internal/vec"
)

// Ограничения ненадёжного канала
const (
	MaxDatagramSize    = 508 // Датаграмма без фрагментации
	PoseHeaderSize     = 4   // sceneCount(u16) + unitCount(u16)
	IdentifiedPoseSize = 52
	ScenePoseSize      = 48
	HelloSize          = 8
)

var helloMagic = []byte("HELO")

// IdentifiedPose поза юнита, вычисленная относительно его LastEventID
type IdentifiedPose struct {
	UID          int32    `json:"uid"`
	Position     vec.Vec3 `json:"position"`
	Velocity     vec.Vec3 `json:"velocity"`
	Orientation  vec.Quat `json:"orientation"`
	AnimState    int32    `json:"anim_state"`
	EventCounter uint32   `json:"event_counter"`
}

// ScenePose поза постоянного объекта сцены, которым управляет сервер
type ScenePose struct {
	Position    vec.Vec3 `json:"position"`
	Velocity    vec.Vec3 `json:"velocity"`
	Orientation vec.Quat `json:"orientation"`
}

// PoseDatagram содержимое одной UDP-датаграммы с позами
type PoseDatagram struct {
	Scene []ScenePose
	Units []IdentifiedPose
}

// Size возвращает размер датаграммы на проводе
func (p PoseDatagram) Size() int {
	return PoseHeaderSize + len(p.Scene)*ScenePoseSize + len(p.Units)*IdentifiedPoseSize
}

// Empty true если в датаграмме нет ни одной позы
func (p PoseDatagram) Empty() bool {
	return len(p.Scene) == 0 && len(p.Units) == 0
}

// MaxScenePoses сколько поз сцены помещается в пустую датаграмму
const MaxScenePoses = (MaxDatagramSize - PoseHeaderSize) / ScenePoseSize

// UnitCapacity сколько поз юнитов помещается в датаграмму при заданном числе поз сцены
func UnitCapacity(sceneCount int) int {
	free := MaxDatagramSize - PoseHeaderSize - sceneCount*ScenePoseSize
	if free < 0 {
		return 0
	}
	return free / IdentifiedPoseSize
}

// AppendPoseDatagram дописывает датаграмму в dst.
// Возвращает ошибку, если результат превысит MaxDatagramSize.
func AppendPoseDatagram(dst []byte, p PoseDatagram) ([]byte, error) {
	if size := p.Size(); size > MaxDatagramSize {
		return dst, fmt.Errorf("%w: датаграмма %d байт больше лимита %d", ErrMalformed, size, MaxDatagramSize)
	}
	dst = be.AppendUint16(dst, uint16(len(p.Scene)))
	dst = be.AppendUint16(dst, uint16(len(p.Units)))
	for _, s := range p.Scene {
		dst = appendVec3(dst, s.Position)
		dst = appendVec3(dst, s.Velocity)
		dst = appendQuat(dst, s.Orientation)
		dst = append(dst, 0, 0, 0, 0, 0, 0, 0, 0)
	}
	for _, u := range p.Units {
		dst = appendInt32(dst, u.UID)
		dst = appendVec3(dst, u.Position)
		dst = appendVec3(dst, u.Velocity)
		dst = appendQuat(dst, u.Orientation)
		dst = appendInt32(dst, u.AnimState)
		dst = be.AppendUint32(dst, u.EventCounter)
	}
	return dst, nil
}

// DecodePoseDatagram разбирает датаграмму с позами
func DecodePoseDatagram(buf []byte) (PoseDatagram, error) {
	var p PoseDatagram
	if len(buf) < PoseHeaderSize {
		return p, ErrTruncated
	}
	if len(buf) > MaxDatagramSize {
		return p, fmt.Errorf("%w: датаграмма %d байт", ErrMalformed, len(buf))
	}
	sceneCount := int(be.Uint16(buf[0:2]))
	unitCount := int(be.Uint16(buf[2:4]))
	want := PoseHeaderSize + sceneCount*ScenePoseSize + unitCount*IdentifiedPoseSize
	if want != len(buf) {
		return p, fmt.Errorf("%w: ожидалось %d байт, получено %d", ErrMalformed, want, len(buf))
	}

	d := decoder{buf: buf, pos: PoseHeaderSize}
	if sceneCount > 0 {
		p.Scene = make([]ScenePose, sceneCount)
		for i := range p.Scene {
			p.Scene[i] = ScenePose{Position: d.vec3(), Velocity: d.vec3(), Orientation: d.quat()}
			d.take(8)
		}
	}
	if unitCount > 0 {
		p.Units = make([]IdentifiedPose, unitCount)
		for i := range p.Units {
			u := &p.Units[i]
			u.UID = d.int32()
			u.Position = d.vec3()
			u.Velocity = d.vec3()
			u.Orientation = d.quat()
			u.AnimState = d.int32()
			u.EventCounter = d.uint32()
		}
	}
	return p, d.err
}

// EncodeHello строит датаграмму приветствия для проверки UDP-пути
func EncodeHello(uid int32) []byte {
	buf := make([]byte, 0, HelloSize)
	buf = append(buf, helloMagic...)
	return appendInt32(buf, uid)
}

// DecodeHello возвращает UID из датаграммы приветствия
func DecodeHello(buf []byte) (int32, bool) {
	if len(buf) != HelloSize || !bytes.Equal(buf[:4], helloMagic) {
		return 0, false
	}
	return int32(be.Uint32(buf[4:])), true
}
