package service

import (
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/support/util/configbinder"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
)

var relPathType = reflect.TypeOf(model.RelPath{})

// RelPathHook converts between model.RelPath and string. A string bound to a RelPath field
// is resolved against dirs when it carries a "::BASE::" marker and taken as an absolute path
// otherwise. A RelPath bound to a string field keeps its symbolic form, so command templates
// can be resolved with model.ResolveRefs when they run.
func RelPathHook(dirs map[model.BaseType]string) mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		switch {
		case from == relPathType && to.Kind() == reflect.String:
			return data.(model.RelPath).Ident(), nil
		case from.Kind() == reflect.String && to == relPathType:
			s := data.(string)
			for _, bt := range model.BaseTypes {
				base, ok := dirs[bt]
				if ok && strings.HasPrefix(s, bt.Prefix()) {
					return model.RelPath{BaseType: bt, BasePath: base, RelPath: strings.TrimPrefix(s, bt.Prefix())}, nil
				}
			}
			return model.RelPath{BaseType: model.BaseAbsolute, RelPath: s}, nil
		}
		return data, nil
	}
}

// BindArgs decodes args into target (a pointer to a struct with yaml tags). A single
// value is accepted where a list is expected.
func BindArgs(service string, dirs map[model.BaseType]string, args map[string]interface{}, target interface{}) error {
	if err := configbinder.BindProperties(args, target, RelPathHook(dirs)); err != nil {
		return exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "invalid arguments for service %s", service, err)
	}
	return nil
}

// Patterns renders paths by their identity, for log messages.
func Patterns(paths []model.RelPath) string {
	idents := make([]string, len(paths))
	for i, p := range paths {
		idents[i] = p.Ident()
	}
	return strings.Join(idents, ", ")
}
