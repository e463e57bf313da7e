// Package delta implements the Delta Codec described in the engine's
// component design: computing, applying, encoding and decoding entity-level
// diffs between two RoomState snapshots.
//
// An Entity is an untyped field map. An EntityDelta is an overlay keyed by
// entityId: a nil value means "entity removed", a field map means "these
// fields changed" (a nil field value means "field removed"), and a brand new
// entity appears as a full field map. The zero value, an empty map, means
// no-op. Equality for diffing purposes is deep structural equality over
// JSON/MessagePack-representable values; key order never matters.
package delta

import (
	"bytes"
	"encoding/base64"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Entity is an opaque field map; field semantics belong entirely to callers.
type Entity map[string]any

// EntityDelta is the overlay produced by ComputeDelta and consumed by
// ApplyDelta. Values are either nil (remove this entity), or a
// map[string]any of field changes (a nil field value removes that field).
type EntityDelta map[string]any

// FullDelta is the wire form of a delta: the overlay plus enough transport
// metadata for cross-instance fan-out and ordering (§4.1, §6).
type FullDelta struct {
	RoomID     string      `msgpack:"roomId"`
	Delta      EntityDelta `msgpack:"delta"`
	Tick       uint64      `msgpack:"tick"`
	Seq        uint64      `msgpack:"seq"`
	Ts         int64       `msgpack:"ts"`
	InstanceID string      `msgpack:"instanceId"`
}

// Snapshot is the persisted (entities, seq, tick) triple described in §3 and
// §4.2, stored in the coordinator's hash store.
type Snapshot struct {
	Data       map[string]Entity `msgpack:"data"`
	Seq        uint64            `msgpack:"seq"`
	Tick       uint64            `msgpack:"tick"`
	Timestamp  int64             `msgpack:"timestamp"`
	InstanceID string            `msgpack:"instanceId"`
}

// ComputeDelta diffs prev against next by entity, by field, using deep
// structural equality. Entities only in next appear as full field maps;
// entities only in prev appear as nil ("removed"); entities in both contain
// only the fields that changed. Entities with no field-level change are
// omitted entirely.
func ComputeDelta(prev, next map[string]Entity) EntityDelta {
	out := make(EntityDelta)

	for id, prevEntity := range prev {
		nextEntity, stillPresent := next[id]
		if !stillPresent {
			out[id] = nil
			continue
		}

		fields := diffFields(prevEntity, nextEntity)
		if len(fields) > 0 {
			out[id] = fields
		}
	}

	for id, nextEntity := range next {
		if _, existedBefore := prev[id]; existedBefore {
			continue
		}
		out[id] = cloneEntity(nextEntity)
	}

	return out
}

// diffFields returns only the fields whose value differs (or was removed)
// between prev and next, with removed fields represented as a nil value.
func diffFields(prev, next Entity) map[string]any {
	changes := make(map[string]any)

	for field, prevVal := range prev {
		nextVal, stillPresent := next[field]
		if !stillPresent {
			changes[field] = nil
			continue
		}
		if !deepEqual(prevVal, nextVal) {
			changes[field] = nextVal
		}
	}

	for field, nextVal := range next {
		if _, existedBefore := prev[field]; existedBefore {
			continue
		}
		changes[field] = nextVal
	}

	return changes
}

// ApplyDelta applies an overlay to entities in place: nil removes the
// entity, a field map inserts (if absent) or merges field-by-field (nil
// field value removes that field) otherwise.
func ApplyDelta(entities map[string]Entity, d EntityDelta) {
	for id, change := range d {
		if change == nil {
			delete(entities, id)
			continue
		}

		fields, ok := change.(map[string]any)
		if !ok {
			continue
		}

		existing, present := entities[id]
		if !present {
			entities[id] = cloneFields(fields)
			continue
		}

		for field, val := range fields {
			if val == nil {
				delete(existing, field)
				continue
			}
			existing[field] = val
		}
		entities[id] = existing
	}
}

// IsEmpty reports whether a delta carries no entries at all.
func IsEmpty(d EntityDelta) bool {
	return len(d) == 0
}

func cloneEntity(e Entity) map[string]any {
	return cloneFields(map[string]any(e))
}

func cloneFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// deepEqual compares two field values the way two MessagePack/JSON trees
// would compare: by value, ignoring map key ordering (maps have none to
// begin with in Go).
func deepEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// Encode serializes any wire value (FullDelta, Snapshot, ...) to MessagePack
// bytes.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("msgpack")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes MessagePack bytes into v, the inverse of Encode. The
// round-trip law Decode(Encode(x)) == x holds for every FullDelta and
// Snapshot value. Loose interface decoding keeps integer field values
// widening to int64 (rather than the narrowest fixint type that fits) when
// they land in an interface{}/map[string]any, so an Entity's fields stay
// type-stable through a publish/subscribe round trip and ComputeDelta's
// reflect.DeepEqual comparisons.
func Decode(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("msgpack")
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}

// EncodeFullDelta is a typed convenience wrapper around Encode.
func EncodeFullDelta(fd FullDelta) ([]byte, error) {
	return Encode(fd)
}

// DecodeFullDelta is a typed convenience wrapper around Decode.
func DecodeFullDelta(data []byte) (FullDelta, error) {
	var fd FullDelta
	err := Decode(data, &fd)
	return fd, err
}

// EncodeFullDeltaForTransport produces the exact bytes that cross the
// coordinator's pub/sub channel (§4.1, §6): MessagePack-encode, then
// base64-wrap so the payload is safe as a pub/sub message body.
func EncodeFullDeltaForTransport(fd FullDelta) ([]byte, error) {
	raw, err := EncodeFullDelta(fd)
	if err != nil {
		return nil, err
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

// DecodeFullDeltaFromTransport is the inverse of
// EncodeFullDeltaForTransport: base64-decode, then MessagePack-decode,
// matching §4.5 step 2's "base64-decode then binary-decode" order.
func DecodeFullDeltaFromTransport(payload []byte) (FullDelta, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(raw, payload)
	if err != nil {
		return FullDelta{}, err
	}
	return DecodeFullDelta(raw[:n])
}
