package raystate

import (
	"encoding/binary"
	"math"
)

// vec3Len is the serialized size of one Vec3. A ray record's length
// varies with its to-visit stack:
// sampleId(8) pFilm(4+4) weight(8) origin(24) direction(24) diffs flag(1)
// + 4*24 differentials remainingBounces(4) toVisitLen(2)+toVisit(4 each)
// hit(1) shadow(1) throughput(24) ld(24) hops(4) tick(4) tracked(1)
func vec3Len() int { return 24 }

// Encode serializes one ray record. Ray packets (§6) pack records
// length-prefixed until the next record would exceed the MTU.
func Encode(s *State) []byte {
	base := 8 + 4 + 4 + 8 + vec3Len()*2 + 1 + 4 + vec3Len()*4 + 4 + 2 + len(s.ToVisit)*4 + 1 + 1 + vec3Len()*2 + 4 + 4 + 1
	buf := make([]byte, base)
	off := 0

	binary.BigEndian.PutUint64(buf[off:], uint64(s.SampleID))
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(s.PFilm.X))
	off += 4
	binary.BigEndian.PutUint32(buf[off:], uint32(s.PFilm.Y))
	off += 4
	putFloat(buf[off:], s.Weight)
	off += 8

	off = putVec3(buf, off, s.Ray.Origin)
	off = putVec3(buf, off, s.Ray.Direction)

	if s.Ray.HasDifferentials {
		buf[off] = 1
	}
	off++
	off = putVec3(buf, off, s.Ray.RxOrigin)
	off = putVec3(buf, off, s.Ray.RyOrigin)
	off = putVec3(buf, off, s.Ray.RxDirection)
	off = putVec3(buf, off, s.Ray.RyDirection)

	binary.BigEndian.PutUint32(buf[off:], uint32(s.RemainingBounces))
	off += 4

	binary.BigEndian.PutUint16(buf[off:], uint16(len(s.ToVisit)))
	off += 2
	for _, t := range s.ToVisit {
		binary.BigEndian.PutUint32(buf[off:], uint32(t))
		off += 4
	}

	if s.Hit {
		buf[off] = 1
	}
	off++
	if s.Shadow {
		buf[off] = 1
	}
	off++

	off = putVec3(buf, off, s.Throughput)
	off = putVec3(buf, off, s.Ld)

	binary.BigEndian.PutUint32(buf[off:], uint32(s.Hops))
	off += 4
	binary.BigEndian.PutUint32(buf[off:], uint32(s.Tick))
	off += 4
	if s.Tracked {
		buf[off] = 1
	}
	off++

	return buf[:off]
}

// Decode parses one ray record from buf, returning the ray and the
// number of bytes consumed.
func Decode(buf []byte) (*State, int) {
	s := &State{}
	off := 0

	s.SampleID = SampleID(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	s.PFilm.X = int32(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	s.PFilm.Y = int32(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	s.Weight = getFloat(buf[off:])
	off += 8

	s.Ray.Origin, off = getVec3(buf, off)
	s.Ray.Direction, off = getVec3(buf, off)

	s.Ray.HasDifferentials = buf[off] != 0
	off++
	s.Ray.RxOrigin, off = getVec3(buf, off)
	s.Ray.RyOrigin, off = getVec3(buf, off)
	s.Ray.RxDirection, off = getVec3(buf, off)
	s.Ray.RyDirection, off = getVec3(buf, off)

	s.RemainingBounces = int(int32(binary.BigEndian.Uint32(buf[off:])))
	off += 4

	n := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	if n > 0 {
		s.ToVisit = make([]TreeletID, n)
		for i := 0; i < n; i++ {
			s.ToVisit[i] = TreeletID(binary.BigEndian.Uint32(buf[off:]))
			off += 4
		}
	}

	s.Hit = buf[off] != 0
	off++
	s.Shadow = buf[off] != 0
	off++

	s.Throughput, off = getVec3(buf, off)
	s.Ld, off = getVec3(buf, off)

	s.Hops = int(int32(binary.BigEndian.Uint32(buf[off:])))
	off += 4
	s.Tick = int(int32(binary.BigEndian.Uint32(buf[off:])))
	off += 4
	s.Tracked = buf[off] != 0
	off++

	return s, off
}

func putVec3(buf []byte, off int, v Vec3) int {
	putFloat(buf[off:], v.X)
	putFloat(buf[off+8:], v.Y)
	putFloat(buf[off+16:], v.Z)
	return off + 24
}

func getVec3(buf []byte, off int) (Vec3, int) {
	v := Vec3{getFloat(buf[off:]), getFloat(buf[off+8:]), getFloat(buf[off+16:])}
	return v, off + 24
}

func putFloat(buf []byte, f float64) {
	binary.BigEndian.PutUint64(buf, math.Float64bits(f))
}

func getFloat(buf []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(buf))
}

// EncodeBatch packs as many records from rays as fit within mtu bytes,
// each prefixed by its length (§6: "length-prefixed serialized ray
// records, packed until the next record would exceed the MTU"). The
// first record is always packed, even if it alone exceeds mtu. It
// returns the packed bytes and the number of rays consumed.
func EncodeBatch(rays []*State, mtu int) ([]byte, int) {
	var buf []byte
	consumed := 0
	for _, r := range rays {
		enc := Encode(r)
		need := 4 + len(enc)
		if len(buf)+need > mtu && consumed > 0 {
			break
		}
		lenPrefix := make([]byte, 4)
		binary.BigEndian.PutUint32(lenPrefix, uint32(len(enc)))
		buf = append(buf, lenPrefix...)
		buf = append(buf, enc...)
		consumed++
	}
	return buf, consumed
}

// DecodeBatch unpacks every length-prefixed ray record from buf.
func DecodeBatch(buf []byte) []*State {
	var out []*State
	off := 0
	for off+4 <= len(buf) {
		l := int(binary.BigEndian.Uint32(buf[off:]))
		off += 4
		if off+l > len(buf) {
			break
		}
		s, _ := Decode(buf[off : off+l])
		out = append(out, s)
		off += l
	}
	return out
}
