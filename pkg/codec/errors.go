package codec

import "github.com/pandora-cas/goclient/pkg/util"

func newMissingFieldError(frameType, field string) error {
	return util.NewProtocolError(frameType, "missing required field \""+field+"\"")
}

func newUnknownFrameTypeError(frameType string) error {
	return util.NewProtocolError(frameType, "unknown frame type")
}
