package configs

import "strconv"

// Property names read by the core. The throttle property name keeps its
// historical spelling; services and older clients both use it.
const (
	PropTransmitLengthBeforeThrottleMs = "SPEECH-TransmitLengthBeforThrottleMs"
	PropRecoModeInteractiveTimeoutMs   = "SPEECH-RecoModeInteractiveTimeoutMs"
	PropRecoModeContinuousTimeoutMs    = "SPEECH-RecoModeContinuousTimeoutMs"
	PropDialogTurnInactivityTimeoutMs  = "DIALOG-TurnInactivityTimeoutMs"
)

// Defaults applied when a property is unset.
const (
	DefaultTransmitThrottleMs     = 5000
	DefaultInteractiveTimeoutMs   = 8000
	DefaultContinuousTimeoutMs    = 25000
	DefaultDialogTurnInactivityMs = 2000
)

// Properties is a string-keyed bag of tunables threaded through
// construction; it replaces any process-wide mutable settings.
type Properties map[string]string

func (p Properties) Get(name, def string) string {
	if p == nil {
		return def
	}
	if v, ok := p[name]; ok && v != "" {
		return v
	}
	return def
}

func (p Properties) GetInt(name string, def int) int {
	if p == nil {
		return def
	}
	if v, ok := p[name]; ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (p Properties) Set(name, value string) {
	p[name] = value
}

// Clone returns a copy so adapters can hold properties without sharing
// mutation with the caller.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
