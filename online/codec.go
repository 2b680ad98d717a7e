package online

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/featstore/featstore-go/constants"
	"github.com/featstore/featstore-go/errors"
	"github.com/featstore/featstore-go/registry"
	"github.com/featstore/featstore-go/utils"
)

// wireValues renders feature values with JSON safe types: int64 rides as a
// decimal string so identifiers above 2^53 survive the float64 number type,
// and timestamps ride as RFC3339Nano strings. The view schema restores the
// real types on decode.
func wireValues(view *registry.FeatureView, values map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(values))
	for name, v := range values {
		f, ok := view.Field(name)
		if !ok {
			return nil, errors.Newf("view %q has no field %q", view.Name, name)
		}
		if v == nil {
			out[name] = nil
			continue
		}
		coerced, err := utils.CoerceValue(v, f.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "field %q", name)
		}
		switch f.Type {
		case constants.FS_INT64:
			out[name] = strconv.FormatInt(coerced.(int64), 10)
		case constants.FS_TIMESTAMP:
			out[name] = coerced.(time.Time).UTC().Format(time.RFC3339Nano)
		default:
			out[name] = coerced
		}
	}
	return out, nil
}

func valuesFromWire(view *registry.FeatureView, wire map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(view.Schema))
	for name, raw := range wire {
		f, ok := view.Field(name)
		if !ok {
			// Stored under an older schema. Unknown fields are dropped.
			continue
		}
		v, err := utils.CoerceValue(raw, f.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "field %q", name)
		}
		out[name] = v
	}
	for _, f := range view.Schema {
		if _, ok := out[f.Name]; !ok {
			out[f.Name] = nil
		}
	}
	return out, nil
}

// EncodeProto packs values into a protobuf Struct payload, the compact
// format the Redis store writes.
func EncodeProto(view *registry.FeatureView, values map[string]interface{}) ([]byte, error) {
	wire, err := wireValues(view, values)
	if err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(wire)
	if err != nil {
		return nil, errors.Wrap(err, "build struct payload")
	}
	return proto.Marshal(s)
}

func DecodeProto(view *registry.FeatureView, payload []byte) (map[string]interface{}, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(payload, &s); err != nil {
		return nil, errors.Wrap(err, "decode struct payload")
	}
	return valuesFromWire(view, s.AsMap())
}

// EncodeJSON renders the same wire form as readable JSON, the format the SQL
// store keeps so payload columns stay inspectable.
func EncodeJSON(view *registry.FeatureView, values map[string]interface{}) ([]byte, error) {
	wire, err := wireValues(view, values)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

func DecodeJSON(view *registry.FeatureView, payload []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var wire map[string]interface{}
	if err := dec.Decode(&wire); err != nil {
		return nil, errors.Wrap(err, "decode json payload")
	}
	return valuesFromWire(view, wire)
}
