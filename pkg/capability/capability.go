// Package capability checks a command against a device's advertised
// capability bitmask. The shape is grounded in a group/wildcard permission
// checker, re-purposed here from user/group lookups to command/bit
// matching: a device either advertises the bit a command requires, or it
// doesn't, and a small "unclear" set of commands is always let through
// because their semantics are undocumented upstream.
package capability

import (
	"fmt"

	"github.com/pandora-cas/goclient/pkg/util"
)

// CommandID is one of the canonical numeric command identifiers.
type CommandID int

const (
	CommandLock                  CommandID = 1
	CommandUnlock                CommandID = 2
	CommandStartEngine           CommandID = 4
	CommandStopEngine            CommandID = 8
	CommandDisableConnection     CommandID = 15
	CommandEnableTracking        CommandID = 16
	CommandEnableActiveSecurity  CommandID = 17
	CommandDisableActiveSecurity CommandID = 18
	CommandCoolantHeaterOn       CommandID = 21
	CommandCoolantHeaterOff      CommandID = 22
	CommandTriggerHorn           CommandID = 23
	CommandTriggerLight          CommandID = 24
	CommandDisableTracking       CommandID = 32
	CommandExtChannelOn          CommandID = 33
	CommandExtChannelOff         CommandID = 34
	CommandEnableServiceMode     CommandID = 40
	CommandDisableServiceMode    CommandID = 41
	CommandEnableStatusOutput    CommandID = 48
	CommandDisableStatusOutput   CommandID = 49
	CommandAdditional1           CommandID = 100
	CommandAdditional2           CommandID = 128
	CommandEnableConnection      CommandID = 240
	CommandCheck                 CommandID = 255
)

// commandBit maps a command to the capability_mask bit the device must
// advertise for that command to be accepted locally. Commands absent from
// this map are in the "unclear" set (240, 15, 255 and anything the
// documented codification never assigned a bit to) and always pass.
var commandBit = map[CommandID]uint{
	CommandLock:                  0,
	CommandUnlock:                1,
	CommandStartEngine:           2,
	CommandStopEngine:            2,
	CommandEnableTracking:        3,
	CommandDisableTracking:       3,
	CommandEnableActiveSecurity:  4,
	CommandDisableActiveSecurity: 4,
	CommandCoolantHeaterOn:       5,
	CommandCoolantHeaterOff:      5,
	CommandTriggerHorn:           6,
	CommandTriggerLight:          7,
	CommandExtChannelOn:          8,
	CommandExtChannelOff:         8,
	CommandEnableServiceMode:     9,
	CommandDisableServiceMode:    9,
	CommandEnableStatusOutput:    10,
	CommandDisableStatusOutput:   10,
}

// unclear is the set of command ids whose upstream semantics are
// undocumented; they are always allowed through regardless of capability_mask.
var unclear = map[CommandID]bool{
	CommandEnableConnection:  true,
	CommandDisableConnection: true,
	CommandCheck:             true,
	CommandAdditional1:       true,
	CommandAdditional2:       true,
}

// Allows reports whether mask documents support for commandID. A command
// with no known bit requirement, or in the unclear set, is always allowed.
func Allows(mask uint64, commandID int) bool {
	id := CommandID(commandID)
	if unclear[id] {
		return true
	}
	bit, known := commandBit[id]
	if !known {
		return true
	}
	return mask&(1<<bit) != 0
}

// DeviceView is the minimal surface Check needs from a device.View, kept
// narrow so this package never imports pkg/device (avoiding a dependency
// cycle with Commander, which imports both).
type DeviceView interface {
	ID() int64
	Capabilities() uint64
}

// Check returns a CommandRejectedError if the device's capability mask is
// known to exclude commandID, or nil if the command should proceed to Commander.
func Check(dev DeviceView, commandID int) error {
	if Allows(dev.Capabilities(), commandID) {
		return nil
	}
	return util.NewCommandRejectedLocal(dev.ID(), commandID,
		fmt.Sprintf("device does not advertise capability bit for command %d", commandID))
}
