package capability

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// commandName maps each canonical command id to its symbolic alias. The
// numeric id is authoritative; the alias is a convenience for operators
// and log output.
var commandName = map[CommandID]string{
	CommandLock:                  "lock",
	CommandUnlock:                "unlock",
	CommandStartEngine:           "start_engine",
	CommandStopEngine:            "stop_engine",
	CommandDisableConnection:     "disable_connection",
	CommandEnableTracking:        "enable_tracking",
	CommandEnableActiveSecurity:  "enable_active_security",
	CommandDisableActiveSecurity: "disable_active_security",
	CommandCoolantHeaterOn:       "turn_on_coolant_heater",
	CommandCoolantHeaterOff:      "turn_off_coolant_heater",
	CommandTriggerHorn:           "trigger_horn",
	CommandTriggerLight:          "trigger_light",
	CommandDisableTracking:       "disable_tracking",
	CommandExtChannelOn:          "turn_on_ext_channel",
	CommandExtChannelOff:         "turn_off_ext_channel",
	CommandEnableServiceMode:     "enable_service_mode",
	CommandDisableServiceMode:    "disable_service_mode",
	CommandEnableStatusOutput:    "enable_status_output",
	CommandDisableStatusOutput:   "disable_status_output",
	CommandAdditional1:           "additional_command_1",
	CommandAdditional2:           "additional_command_2",
	CommandEnableConnection:      "enable_connection",
	CommandCheck:                 "check",
}

var commandByName = func() map[string]CommandID {
	m := make(map[string]CommandID, len(commandName))
	for id, name := range commandName {
		m[name] = id
	}
	return m
}()

// Name returns the symbolic alias for id, or the decimal id itself when the
// command is outside the canonical set.
func Name(id CommandID) string {
	if name, ok := commandName[id]; ok {
		return name
	}
	return strconv.Itoa(int(id))
}

// Parse resolves a command given either as a decimal id or a symbolic
// alias. Unknown numeric ids in 0-255 are accepted as-is (the id is
// authoritative); ids outside that range and unknown aliases are an error.
func Parse(s string) (CommandID, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 255 {
			return 0, fmt.Errorf("command id %d out of range", n)
		}
		return CommandID(n), nil
	}
	if id, ok := commandByName[strings.ToLower(s)]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("unknown command %q", s)
}

// Names returns every known alias, sorted, for help output.
func Names() []string {
	out := make([]string, 0, len(commandByName))
	for name := range commandByName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
