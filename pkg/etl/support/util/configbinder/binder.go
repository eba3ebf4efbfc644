// Package configbinder decodes loosely typed configuration maps into typed structs.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// BindProperties decodes properties into target, matching keys against yaml tags.
// Scalars are converted weakly, so "5" binds to an int field. hooks run before that conversion.
func BindProperties(properties map[string]interface{}, target interface{}, hooks ...mapstructure.DecodeHookFunc) error {
	if properties == nil {
		properties = map[string]interface{}{}
	}

	cfg := &mapstructure.DecoderConfig{Result: target, TagName: "yaml", WeaklyTypedInput: true}
	if len(hooks) > 0 {
		cfg.DecodeHook = mapstructure.ComposeDecodeHookFunc(hooks...)
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return fmt.Errorf("configbinder: %w", err)
	}
	if err := decoder.Decode(properties); err != nil {
		return fmt.Errorf("configbinder: bind %s: %w", reflect.Indirect(reflect.ValueOf(target)).Type(), err)
	}
	return nil
}
