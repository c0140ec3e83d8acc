package codec

import "fmt"

// codePair is the lookup key into the event codifier table.
type codePair struct {
	Primary   int
	Secondary int
}

// eventCodifier maps (primary, secondary) event codes to a stable symbolic
// name. The upstream table is large and partly undocumented; unmapped
// pairs resolve to "unknown" and the raw codes travel with the event so
// nothing is silently lost.
var eventCodifier = map[codePair]string{
	{1, 0}:  "armed",
	{1, 1}:  "armed_remote",
	{2, 0}:  "disarmed",
	{2, 1}:  "disarmed_remote",
	{3, 0}:  "alarm_triggered",
	{3, 1}:  "alarm_shock_sensor",
	{3, 2}:  "alarm_tilt_sensor",
	{3, 3}:  "alarm_door",
	{3, 4}:  "alarm_hood",
	{3, 5}:  "alarm_trunk",
	{4, 0}:  "engine_started",
	{4, 1}:  "engine_started_remote",
	{5, 0}:  "engine_stopped",
	{6, 0}:  "low_battery",
	{7, 0}:  "gsm_connection_lost",
	{7, 1}:  "gsm_connection_restored",
	{8, 0}:  "gps_fix_lost",
	{8, 1}:  "gps_fix_restored",
	{9, 0}:  "door_opened",
	{9, 1}:  "door_closed",
	{10, 0}: "settings_changed",
}

// primaryTitle names the primary code alone; the pair table refines it.
var primaryTitle = map[int]string{
	1:  "arming",
	2:  "disarming",
	3:  "alarm",
	4:  "engine start",
	5:  "engine stop",
	6:  "battery",
	7:  "gsm",
	8:  "gps",
	9:  "door",
	10: "settings",
}

// EventType resolves (primary, secondary) to a stable symbolic name, or
// "unknown" if the pair is not in the documented subset.
func EventType(primary, secondary int) string {
	if name, ok := eventCodifier[codePair{primary, secondary}]; ok {
		return name
	}
	return "unknown"
}

// EventTitle renders a human-readable fallback title for an unmapped pair,
// used when the downstream consumer wants something better than "unknown".
func EventTitle(primary, secondary int) string {
	if name, ok := eventCodifier[codePair{primary, secondary}]; ok {
		return name
	}
	return fmt.Sprintf("event(%d,%d)", primary, secondary)
}

// EventTitlePrimary names the primary code alone (title_primary on the
// downstream event payload); EventTitle refines it with the secondary code.
func EventTitlePrimary(primary int) string {
	if name, ok := primaryTitle[primary]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", primary)
}
