package codec

// BitMap names the boolean flags packed into a bit_state/can_bit_state
// word, mapping a flag name to its bit position. The exact vendor
// codification is undocumented upstream; this is the documented subset.
type BitMap map[string]uint

// DefaultBitStateMap is the 64-bit bit_state word's named flags.
var DefaultBitStateMap = BitMap{
	"armed":              0,
	"ignition":           1,
	"engine_running":     2,
	"door_front_left":    3,
	"door_front_right":   4,
	"door_rear_left":     5,
	"door_rear_right":    6,
	"hood":               7,
	"trunk":              8,
	"window_front_left":  9,
	"window_front_right": 10,
	"window_rear_left":   11,
	"window_rear_right":  12,
	"handbrake":          13,
	"active_security":    14,
	"service_mode":       15,
	"status_output":      16,
	"ext_channel":        17,
	"tracking":           18,
	"connection":         19,
}

// DefaultCanBitStateMap is the 32-bit can_bit_state word's named flags.
var DefaultCanBitStateMap = BitMap{
	"tpms_front_left":      0,
	"tpms_front_right":     1,
	"tpms_rear_left":       2,
	"tpms_rear_right":      3,
	"ev_charging":          4,
	"ev_charge_complete":   5,
	"glass_driver_open":    6,
	"glass_passenger_open": 7,
}

// ExpandBits produces a name->bool map from a bit word and bit map. A bit
// position named in m but beyond the word's width is simply false.
func ExpandBits[T ~uint32 | ~uint64](bitState T, m BitMap) map[string]bool {
	out := make(map[string]bool, len(m))
	for name, pos := range m {
		out[name] = bitState&(T(1)<<pos) != 0
	}
	return out
}
