package behavior

import "reflect"

// ImportPath is the import path interpreted widgets use for this package.
const ImportPath = "widgetrt/pkg/behavior"

// Symbols exports this package to the yaegi interpreter, keyed the way
// interp.Exports expects ("import/path/pkgname").
var Symbols = map[string]map[string]reflect.Value{
	ImportPath + "/behavior": {
		// types
		"Behavior":         reflect.ValueOf((*Behavior)(nil)),
		"Closer":           reflect.ValueOf((*Closer)(nil)),
		"Configurable":     reflect.ValueOf((*Configurable)(nil)),
		"Funcs":            reflect.ValueOf((*Funcs)(nil)),
		"IODeclarer":       reflect.ValueOf((*IODeclarer)(nil)),
		"Legacy":           reflect.ValueOf((*Legacy)(nil)),
		"Manifest":         reflect.ValueOf((*Manifest)(nil)),
		"Output":           reflect.ValueOf((*Output)(nil)),
		"Ports":            reflect.ValueOf((*Ports)(nil)),
		"ResourceReloader": reflect.ValueOf((*ResourceReloader)(nil)),
		"Root":             reflect.ValueOf((*Root)(nil)),

		// tags
		"FeatureContainer":    reflect.ValueOf(FeatureContainer),
		"FeatureImageDisplay": reflect.ValueOf(FeatureImageDisplay),
		"FeaturePlaylist":     reflect.ValueOf(FeaturePlaylist),
		"FeatureSongReader":   reflect.ValueOf(FeatureSongReader),
		"FeatureSongWriter":   reflect.ValueOf(FeatureSongWriter),
		"FeatureTextDisplay":  reflect.ValueOf(FeatureTextDisplay),
	},
}
