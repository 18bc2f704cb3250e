// Package config loads build profiles: named, reusable sets of build
// options for the callable builder.
//
// Profiles are written in CUE or Starlark. Either way the resulting data is
// unified with a CUE schema that applies defaults (output GM, gradients on,
// parallelism 1) and rejects unknown fields, and is then checked against
// the validator tags on Profile.
//
// # CUE
//
// A CUE source declares a single `profile` struct, a `profiles` struct keyed
// by name, or both. A single `profile` is named "default".
//
//	profile: {
//		database:   "alni.yaml"
//		components: ["AL", "NI", "VA"]
//		phases:     ["LIQUID", "BCC_A2"]
//		conditions: {T: 1000, P: 101325, N: 1}
//	}
//
// # Starlark
//
// A Starlark script binds the profile fields as top-level globals, a
// `profiles` dict, or both. Scripts run without I/O under a timeout and an
// execution step budget. The builtin kelvin(c) converts Celsius to kelvin;
// values passed as input are predeclared.
//
// Relative database paths are resolved against the directory of the
// profile file.
//
// # Usage
//
//	loader := config.NewLoader(0)
//	profile, err := loader.LoadProfile(ctx, "alni.cue", "hot", nil)
//	if err != nil {
//		return err
//	}
//	opts, err := profile.Options()
package config
