package intake

import (
	"errors"
	"reflect"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Step identifies one page of the wizard.
type Step string

const (
	StepPatient   Step = "patient"
	StepSurgery   Step = "surgery"
	StepCondition Step = "condition"
	StepRisk      Step = "risk"
)

// Steps lists the form steps in the order the wizard presents them.
var Steps = []Step{StepPatient, StepSurgery, StepCondition, StepRisk}

// FieldErrors maps a form key to the validation tag it failed.
type FieldErrors map[string]string

var stepRules = map[Step]map[string]interface{}{
	StepPatient: {
		FieldPatientName:        "required",
		FieldPatientAge:         "required",
		FieldPatientGender:      "required",
		FieldRegistrationNumber: "required",
	},
	StepSurgery: {
		FieldDiagnosis:     "required",
		FieldSurgeryName:   "required",
		FieldScheduledDate: "required",
	},
	StepRisk: {
		FieldMortalityRisk: "omitempty,numeric",
		FieldMorbidityRisk: "omitempty,numeric",
	},
}

func init() {
	rules := make(map[string]interface{}, len(conditionFlags))
	for _, key := range conditionFlags {
		rules[key] = "omitempty,strictbool"
	}
	stepRules[StepCondition] = rules
}

var validate = newValidator()

// newValidator registers strictbool, which accepts only real booleans so
// the rules agree with FormState.Flag.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("strictbool", func(fl validator.FieldLevel) bool {
		return fl.Field().Kind() == reflect.Bool
	})
	return v
}

// ValidateStep checks the fields owned by step. It returns nil when the step
// is complete.
func ValidateStep(step Step, form FormState) FieldErrors {
	rules, ok := stepRules[step]
	if !ok {
		return nil
	}
	raw := validate.ValidateMap(form, rules)
	if len(raw) == 0 {
		return nil
	}
	out := make(FieldErrors, len(raw))
	for field, err := range raw {
		out[field] = "invalid"
		var verrs validator.ValidationErrors
		if e, ok := err.(error); ok && errors.As(e, &verrs) && len(verrs) > 0 {
			out[field] = verrs[0].Tag()
		}
	}
	return out
}

// IsKnownStep reports whether s names a form step.
func IsKnownStep(s Step) bool {
	_, ok := stepRules[s]
	return ok
}

// ValidationState tracks which wizard steps currently pass validation. It
// is owned by a single wizard session; step handlers receive it explicitly
// and observers subscribe with OnChange.
type ValidationState struct {
	mu        sync.RWMutex
	results   map[Step]FieldErrors
	observers []func(Step, FieldErrors)
}

// NewValidationState returns an empty state where no step has been checked.
func NewValidationState() *ValidationState {
	return &ValidationState{results: make(map[Step]FieldErrors)}
}

// OnChange registers fn to be called after every Validate call.
func (v *ValidationState) OnChange(fn func(Step, FieldErrors)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.observers = append(v.observers, fn)
}

// Validate runs the rules for step against form, records the outcome, and
// notifies observers.
func (v *ValidationState) Validate(step Step, form FormState) FieldErrors {
	errs := ValidateStep(step, form)

	v.mu.Lock()
	v.results[step] = errs
	observers := append([]func(Step, FieldErrors){}, v.observers...)
	v.mu.Unlock()

	for _, fn := range observers {
		fn(step, errs)
	}
	return errs
}

// ValidateAll validates every step and reports whether all passed.
func (v *ValidationState) ValidateAll(form FormState) bool {
	ok := true
	for _, step := range Steps {
		if errs := v.Validate(step, form); len(errs) > 0 {
			ok = false
		}
	}
	return ok
}

// StepStatus summarizes one step for API responses.
type StepStatus struct {
	Step    Step        `json:"step"`
	Checked bool        `json:"checked"`
	Valid   bool        `json:"valid"`
	Errors  FieldErrors `json:"errors,omitempty"`
}

// Snapshot returns the status of every step in wizard order.
func (v *ValidationState) Snapshot() []StepStatus {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]StepStatus, 0, len(Steps))
	for _, step := range Steps {
		errs, checked := v.results[step]
		out = append(out, StepStatus{
			Step:    step,
			Checked: checked,
			Valid:   checked && len(errs) == 0,
			Errors:  errs,
		})
	}
	return out
}

// InvalidFields returns the sorted keys that failed in step.
func (e FieldErrors) InvalidFields() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
