package client

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeConfig decodes a task configuration map into out. Values are weakly
// typed so that YAML scalars and JSON numbers both decode, and duration
// strings such as "5m" are accepted.
func DecodeConfig(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
