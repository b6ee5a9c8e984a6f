package config

import (
	"fmt"
	"strconv"
)

// Setting is one user-visible configuration entry as printed by
// `tutord config show`.
type Setting struct {
	Key     string
	Env     string
	Aliases []string
	Value   string
}

// publicSpecs are the keys that may be listed and written from the CLI.
// Credentials are only ever read from the environment.
func publicSpecs() []keySpec {
	out := make([]keySpec, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			out = append(out, s)
		}
	}
	return out
}

func lookup(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// ShowAll lists the effective value of every public setting in cfg.
func ShowAll(cfg Config) []Setting {
	public := publicSpecs()
	out := make([]Setting, 0, len(public))
	for _, s := range public {
		out = append(out, Setting{
			Key:     s.key,
			Env:     s.env,
			Aliases: s.aliases,
			Value:   fmt.Sprint(s.extract(cfg)),
		})
	}
	return out
}

// ValidKeys is used for shell completion of `tutord config set`.
func ValidKeys() []string {
	public := publicSpecs()
	keys := make([]string, len(public))
	for i, s := range public {
		keys[i] = s.key
	}
	return keys
}

// SetKey persists one setting to the user config file.
func SetKey(key, value string) error {
	return setKey(newFileBackend(configFilePath()), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	s, ok := lookup(key)
	if !ok {
		return fmt.Errorf("%q is not a tutord setting", key)
	}
	if s.secret {
		return fmt.Errorf("%s is a credential; export %s instead of storing it", key, s.env)
	}

	switch s.typ {
	case kInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s wants a whole number, got %q", key, value)
		}
		return b.SetInt(key, n)
	case kBool:
		on, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s wants true or false, got %q", key, value)
		}
		return b.SetString(key, strconv.FormatBool(on))
	default:
		return b.SetString(key, value)
	}
}
