package config

// Kind classifies the value a required option must carry.
type Kind int

// Value kinds accepted by the schema.
const (
	KindString Kind = iota
	KindBool
	KindNumber
)

// Schema lists the options the bootstrap orchestrator consumes, with the
// kind each must have. Options not listed here are either optional or
// unknown; unknown keys are ignored for forward compatibility.
var Schema = map[string]Kind{
	"prefix":                         KindString,
	"activity_name":                  KindString,
	"auto_repair_mismatched_clients": KindBool,
	"retry_wait_seconds":             KindNumber,
	"gateway_url":                    KindString,
	"notifier_interval_seconds":      KindNumber,
	"notifier_channel_id":            KindString,
}

// CheckConfig reports whether every required option is present in raw with
// a value of the declared kind. It is a pure predicate: no logging, no
// side effects. Callers decide what a false result means.
func CheckConfig(raw map[string]any) bool {
	for key, kind := range Schema {
		v, ok := raw[key]
		if !ok {
			return false
		}
		if !kindMatches(v, kind) {
			return false
		}
	}
	return true
}

// kindMatches checks a decoded YAML value against a schema kind. yaml.v3
// decodes scalars into string, bool, int, or float64 when the target is
// map[string]any.
func kindMatches(v any, kind Kind) bool {
	switch kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindNumber:
		switch v.(type) {
		case int, int64, uint64, float64:
			return true
		}
		return false
	}
	return false
}
