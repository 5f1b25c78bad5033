package core

import (
	"fmt"
	"strings"
)

// SampleType classifies what was acquired.
type SampleType int

// Sample types. The zero value marks a missing entry.
const (
	SampleTypeUnknown SampleType = iota
	StudySample
	StudyPool
	ExternalReference
	MethodReference
	ProceduralBlank
)

var sampleTypeNames = []string{"", "StudySample", "StudyPool", "ExternalReference", "MethodReference", "ProceduralBlank"}

func (t SampleType) String() string { return enumName(sampleTypeNames, int(t)) }

// ParseSampleType accepts the canonical name in any case, with or without
// spaces ("Study Pool", "studypool").
func ParseSampleType(s string) (SampleType, error) {
	i, err := parseEnum("SampleType", sampleTypeNames, s)
	return SampleType(i), err
}

// AssayRole classifies why a sample was acquired.
type AssayRole int

// Assay roles. The zero value marks a missing entry.
const (
	AssayRoleUnknown AssayRole = iota
	Assay
	PrecisionReference
	LinearityReference
	Blank
)

var assayRoleNames = []string{"", "Assay", "PrecisionReference", "LinearityReference", "Blank"}

func (r AssayRole) String() string { return enumName(assayRoleNames, int(r)) }

// ParseAssayRole parses an assay role name.
func ParseAssayRole(s string) (AssayRole, error) {
	i, err := parseEnum("AssayRole", assayRoleNames, s)
	return AssayRole(i), err
}

// QuantificationType describes how a targeted feature is quantified.
type QuantificationType int

// Quantification types.
const (
	QuantificationTypeUnknown QuantificationType = iota
	InternalStandard
	QuantOwnLabeledAnalogue
	QuantAltLabeledAnalogue
	QuantOther
	Monitored
)

var quantificationTypeNames = []string{"", "IS", "QuantOwnLabeledAnalogue", "QuantAltLabeledAnalogue", "QuantOther", "Monitored"}

func (q QuantificationType) String() string { return enumName(quantificationTypeNames, int(q)) }

// ParseQuantificationType parses a quantification type name.
func ParseQuantificationType(s string) (QuantificationType, error) {
	i, err := parseEnum("quantificationType", quantificationTypeNames, s)
	return QuantificationType(i), err
}

// CalibrationMethod describes how a targeted feature is calibrated.
type CalibrationMethod int

// Calibration methods.
const (
	CalibrationMethodUnknown CalibrationMethod = iota
	BackcalculatedIS
	NoIS
	NoCalibration
	OtherCalibration
)

var calibrationMethodNames = []string{"", "backcalculatedIS", "noIS", "noCalibration", "otherCalibration"}

func (c CalibrationMethod) String() string { return enumName(calibrationMethodNames, int(c)) }

// ParseCalibrationMethod parses a calibration method name.
func ParseCalibrationMethod(s string) (CalibrationMethod, error) {
	i, err := parseEnum("calibrationMethod", calibrationMethodNames, s)
	return CalibrationMethod(i), err
}

// VariableType describes the feature axis.
type VariableType int

// Variable types.
const (
	Discrete VariableType = iota
	Spectral
	Continuum
)

var variableTypeNames = []string{"Discrete", "Spectral", "Continuum"}

func (v VariableType) String() string { return enumName(variableTypeNames, int(v)) }

// ParseVariableType parses a variable type name.
func ParseVariableType(s string) (VariableType, error) {
	i, err := parseEnum("VariableType", variableTypeNames, s)
	return VariableType(i), err
}

// AnalyticalPlatform is the acquisition technology.
type AnalyticalPlatform int

// Analytical platforms.
const (
	MS AnalyticalPlatform = iota
	NMR
)

var platformNames = []string{"MS", "NMR"}

func (p AnalyticalPlatform) String() string { return enumName(platformNames, int(p)) }

// ParseAnalyticalPlatform parses a platform name.
func ParseAnalyticalPlatform(s string) (AnalyticalPlatform, error) {
	i, err := parseEnum("AnalyticalPlatform", platformNames, s)
	return AnalyticalPlatform(i), err
}

func enumName(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return fmt.Sprintf("invalid(%d)", i)
	}
	return names[i]
}

func normaliseEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "")
	return strings.ReplaceAll(s, "_", "")
}

// parseEnum maps s onto an index of names. Empty strings and "nan" map to
// index 0 when names[0] is the empty (unknown) member.
func parseEnum(kind string, names []string, s string) (int, error) {
	n := normaliseEnum(s)
	if names[0] == "" && (n == "" || n == "nan") {
		return 0, nil
	}
	for i, name := range names {
		if name != "" && normaliseEnum(name) == n {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q is not a %s", ErrBadEnumValue, s, kind)
}

// ParseSampleTypes parses a list of sample type names.
func ParseSampleTypes(names []string) ([]SampleType, error) {
	out := make([]SampleType, 0, len(names))
	for _, s := range names {
		t, err := ParseSampleType(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ParseAssayRoles parses a list of assay role names.
func ParseAssayRoles(names []string) ([]AssayRole, error) {
	out := make([]AssayRole, 0, len(names))
	for _, s := range names {
		r, err := ParseAssayRole(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
