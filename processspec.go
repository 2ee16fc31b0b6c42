package plum

import "sort"

// DynamicPortName is the reserved port name used by DynamicInput/DynamicOutput
// to accept any input or output not otherwise declared.
const DynamicPortName = "_dynamic"

// Port declares one named input or output of a ProcessSpec. Validate is
// optional; when present it runs after the Required check. This is
// intentionally a plain struct rather than a class hierarchy — the source
// engine's InputPort/OutputPort/DynamicInputPort/DynamicOutputPort split
// exists to support a port-definition DSL that is out of scope here.
type Port struct {
	Name     string
	Required bool
	Default  any
	HasDefault bool
	Validate func(value any) (bool, string)
}

// validate checks value (which may be nil if the input/output was absent)
// against this port's requirements.
func (p *Port) validate(value any) (bool, string) {
	if value == nil {
		if p.HasDefault || !p.Required {
			return true, ""
		}
		return false, "required port '" + p.Name + "' was not provided"
	}
	if p.Validate != nil {
		return p.Validate(value)
	}
	return true, ""
}

// Validator is a final, whole-spec check run after every port has validated
// individually. Grounded on ProcessSpec.validator in the source engine.
type Validator func(spec *ProcessSpec, inputs map[string]any) (bool, string)

// ProcessSpec declares the inputs and outputs a Process accepts and
// produces, whether it allows ports beyond those declared, and whether it
// is deterministic. Grounded on plumpy's ProcessSpec.
type ProcessSpec struct {
	inputs        map[string]*Port
	outputs       map[string]*Port
	dynamicInput  *Port
	dynamicOutput *Port
	deterministic *bool
	validator     Validator
	sealed        bool
	logger        Logger
}

// NewProcessSpec returns an empty, unsealed ProcessSpec.
func NewProcessSpec() *ProcessSpec {
	return &ProcessSpec{
		inputs:  make(map[string]*Port),
		outputs: make(map[string]*Port),
		logger:  noopLogger{},
	}
}

// SetLogger attaches a diagnostic logger used for the "overwriting existing
// port" notices; nil restores the no-op logger.
func (s *ProcessSpec) SetLogger(l Logger) { s.logger = logOrNoop(l) }

// Seal disallows any further changes to the spec.
func (s *ProcessSpec) Seal() { s.sealed = true }

// Sealed reports whether Seal has been called.
func (s *ProcessSpec) Sealed() bool { return s.sealed }

// Input declares a required or optional named input port.
func (s *ProcessSpec) Input(port Port) error {
	if s.sealed {
		return ErrSpecSealed
	}
	if _, exists := s.inputs[port.Name]; exists {
		s.logger.Info("overwriting existing input", "name", port.Name)
	}
	p := port
	s.inputs[port.Name] = &p
	return nil
}

// DynamicInput allows any input not declared by Input to be accepted,
// subject to validate (which may be nil).
func (s *ProcessSpec) DynamicInput(validate func(any) (bool, string)) error {
	if s.sealed {
		return ErrSpecSealed
	}
	s.dynamicInput = &Port{Name: DynamicPortName, Validate: validate}
	return nil
}

// HasDynamicInput reports whether DynamicInput has been called.
func (s *ProcessSpec) HasDynamicInput() bool { return s.dynamicInput != nil }

// Inputs returns the declared input ports, keyed by name.
func (s *ProcessSpec) Inputs() map[string]*Port { return s.inputs }

// Output declares a required named output port.
func (s *ProcessSpec) Output(port Port) error {
	if s.sealed {
		return ErrSpecSealed
	}
	if _, exists := s.outputs[port.Name]; exists {
		s.logger.Info("overwriting existing output", "name", port.Name)
	}
	p := port
	p.Required = true
	s.outputs[port.Name] = &p
	return nil
}

// OptionalOutput declares an output port that need not be emitted.
func (s *ProcessSpec) OptionalOutput(port Port) error {
	if s.sealed {
		return ErrSpecSealed
	}
	p := port
	p.Required = false
	s.outputs[port.Name] = &p
	return nil
}

// DynamicOutput allows any output not declared by Output to be emitted.
func (s *ProcessSpec) DynamicOutput(validate func(any) (bool, string)) error {
	if s.sealed {
		return ErrSpecSealed
	}
	s.dynamicOutput = &Port{Name: DynamicPortName, Validate: validate}
	return nil
}

// HasDynamicOutput reports whether DynamicOutput has been called.
func (s *ProcessSpec) HasDynamicOutput() bool { return s.dynamicOutput != nil }

// Outputs returns the declared output ports, keyed by name.
func (s *ProcessSpec) Outputs() map[string]*Port { return s.outputs }

// SetDeterministic marks the process deterministic or not. Calling it after
// the spec declared non-deterministic with true again logs a warning,
// matching the source engine's caution that a subclass may have set the
// flag deliberately.
func (s *ProcessSpec) SetDeterministic(to bool) {
	if s.deterministic != nil && !*s.deterministic && to {
		s.logger.Warn("a process spec that was not deterministic has been changed to be deterministic")
	}
	s.deterministic = &to
}

// IsDeterministic reports the deterministic flag, or false if never set.
func (s *ProcessSpec) IsDeterministic() bool {
	return s.deterministic != nil && *s.deterministic
}

// SetValidator supplies a whole-spec validation callback, run after every
// declared port has validated individually.
func (s *ProcessSpec) SetValidator(v Validator) { s.validator = v }

// Validate checks inputs against every declared port, in three steps: first
// reject undeclared names if no dynamic input is allowed (or run them
// through the dynamic input's validate func if one is), then validate
// every declared port in turn, then run the whole-spec validator if one was
// supplied. Grounded on ProcessSpec.validate.
func (s *ProcessSpec) Validate(inputs map[string]any) (bool, string) {
	if inputs == nil {
		inputs = map[string]any{}
	}

	for name, value := range inputs {
		if _, declared := s.inputs[name]; declared {
			continue
		}
		if !s.HasDynamicInput() {
			return false, "unexpected input found: " + name +
				". If you want to allow dynamic inputs add DynamicInput() to the spec"
		}
		if valid, msg := s.dynamicInput.validate(value); !valid {
			return false, msg
		}
	}

	for _, name := range sortedKeys(s.inputs) {
		port := s.inputs[name]
		if valid, msg := port.validate(inputs[name]); !valid {
			return false, msg
		}
	}

	if s.validator != nil {
		if valid, msg := s.validator(s, inputs); !valid {
			return false, msg
		}
	}

	return true, ""
}

func sortedKeys(m map[string]*Port) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
