// Package types contains the shared wire types exchanged between
// introspection managers and subscribers.
package types

import (
	"github.com/c360/plotstream/pkg/spatial"
)

// ValueType identifies the payload carried by a ParamValue.
type ValueType string

// Supported value types
const (
	TypeDouble     ValueType = "double"
	TypeInt        ValueType = "int"
	TypeBool       ValueType = "bool"
	TypeTime       ValueType = "time"
	TypeVector3    ValueType = "vector3"
	TypePose       ValueType = "pose"
	TypeQuaternion ValueType = "quaternion"
)

// TimeValue is a simulation timestamp split into whole seconds and
// nanoseconds, matching the feed's native representation.
type TimeValue struct {
	Sec  int64 `json:"sec"`
	Nsec int32 `json:"nsec"`
}

// Seconds returns the timestamp as floating-point seconds.
func (t TimeValue) Seconds() float64 {
	return float64(t.Sec) + float64(t.Nsec)*1e-9
}

// ParamValue is a tagged union of the payload types a parameter may carry.
// Exactly the field matching Type is expected to be set; absent fields model
// a value whose declared type lacks its payload and decode as invalid.
type ParamValue struct {
	Type            ValueType           `json:"type"`
	DoubleValue     *float64            `json:"double_value,omitempty"`
	IntValue        *int64              `json:"int_value,omitempty"`
	BoolValue       *bool               `json:"bool_value,omitempty"`
	TimeValue       *TimeValue          `json:"time_value,omitempty"`
	Vector3Value    *spatial.Vector3    `json:"vector3_value,omitempty"`
	PoseValue       *spatial.Pose       `json:"pose_value,omitempty"`
	QuaternionValue *spatial.Quaternion `json:"quaternion_value,omitempty"`
}

// Param is a single named value update within a batch.
type Param struct {
	Name  string      `json:"name"`
	Value *ParamValue `json:"value,omitempty"`
}

// ParamBatch is one delivered introspection message: zero or more named
// parameter updates.
type ParamBatch struct {
	Params []Param `json:"params"`
}

// Double builds a double-typed value.
func Double(v float64) *ParamValue {
	return &ParamValue{Type: TypeDouble, DoubleValue: &v}
}

// Int builds an integer-typed value.
func Int(v int64) *ParamValue {
	return &ParamValue{Type: TypeInt, IntValue: &v}
}

// Bool builds a boolean-typed value.
func Bool(v bool) *ParamValue {
	return &ParamValue{Type: TypeBool, BoolValue: &v}
}

// Time builds a time-typed value from floating-point seconds.
func Time(seconds float64) *ParamValue {
	sec := int64(seconds)
	nsec := int32((seconds - float64(sec)) * 1e9)
	return &ParamValue{Type: TypeTime, TimeValue: &TimeValue{Sec: sec, Nsec: nsec}}
}

// Vector3 builds a vector-typed value.
func Vector3(v spatial.Vector3) *ParamValue {
	return &ParamValue{Type: TypeVector3, Vector3Value: &v}
}

// Pose builds a pose-typed value.
func Pose(p spatial.Pose) *ParamValue {
	return &ParamValue{Type: TypePose, PoseValue: &p}
}

// Quaternion builds a quaternion-typed value.
func Quaternion(q spatial.Quaternion) *ParamValue {
	return &ParamValue{Type: TypeQuaternion, QuaternionValue: &q}
}
