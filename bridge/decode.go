package bridge

import (
	"github.com/c360/plotstream/pkg/spatial"
	"github.com/c360/plotstream/pkg/uri"
	"github.com/c360/plotstream/types"
)

// decodeScalar extracts a single float64 from a parameter value. For
// composite types the registry key's query string selects the component.
// The bool result reports whether the value decoded; invalid values produce
// no sample.
func decodeScalar(v *types.ParamValue, query uri.Query) (float64, bool) {
	switch v.Type {
	case types.TypeDouble:
		if v.DoubleValue == nil {
			return 0, false
		}
		return *v.DoubleValue, true

	case types.TypeInt:
		if v.IntValue == nil {
			return 0, false
		}
		return float64(*v.IntValue), true

	case types.TypeBool:
		if v.BoolValue == nil {
			return 0, false
		}
		if *v.BoolValue {
			return 1, true
		}
		return 0, true

	case types.TypeTime:
		if v.TimeValue == nil {
			return 0, false
		}
		return v.TimeValue.Seconds(), true

	case types.TypeVector3:
		if v.Vector3Value == nil {
			return 0, false
		}
		return vector3FromQuery(query, *v.Vector3Value)

	case types.TypePose:
		if v.PoseValue == nil {
			return 0, false
		}
		// Example position query:
		//   p=pose/world_pose/vector3/position/double/x
		// Example orientation query:
		//   p=pose/world_pose/vector3/orientation/double/roll
		switch {
		case query.Contains("position"):
			return vector3FromQuery(query, v.PoseValue.Position)
		case query.Contains("orientation"):
			return quaternionFromQuery(query, v.PoseValue.Orientation)
		default:
			return 0, false
		}

	case types.TypeQuaternion:
		if v.QuaternionValue == nil {
			return 0, false
		}
		return quaternionFromQuery(query, *v.QuaternionValue)

	default:
		return 0, false
	}
}

// vector3FromQuery selects a vector component by the trailing character of
// the query string.
func vector3FromQuery(query uri.Query, vec spatial.Vector3) (float64, bool) {
	switch query.LastByte() {
	case 'x':
		return vec.X, true
	case 'y':
		return vec.Y, true
	case 'z':
		return vec.Z, true
	default:
		return 0, false
	}
}

// quaternionFromQuery selects an Euler angle by substring match on the query
// string. The yaw check is deliberately unconditional: a query naming both
// "pitch" and "yaw" yields the yaw angle. Long-standing feed behavior that
// downstream tooling depends on; do not make the branches exclusive.
func quaternionFromQuery(query uri.Query, quat spatial.Quaternion) (float64, bool) {
	euler := quat.Euler()

	var value float64
	found := false

	if query.Contains("roll") {
		value = euler.X
		found = true
	} else if query.Contains("pitch") {
		value = euler.Y
		found = true
	}
	if query.Contains("yaw") {
		value = euler.Z
		found = true
	}

	return value, found
}
